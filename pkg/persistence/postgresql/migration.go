package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id VARCHAR(64) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_tenant ON workflow_definitions(tenant_id, created_at DESC);

			CREATE TABLE workflow_versions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				version_number INTEGER NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('DRAFT', 'ACTIVE', 'INACTIVE')),
				graph JSONB NOT NULL,
				metadata JSONB,
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				activated_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (workflow_id, version_number)
			);

			-- At most one draft and one active version per workflow
			CREATE UNIQUE INDEX uq_workflow_versions_draft ON workflow_versions(workflow_id) WHERE status = 'DRAFT';
			CREATE UNIQUE INDEX uq_workflow_versions_active ON workflow_versions(workflow_id) WHERE status = 'ACTIVE';
		`,
		2: `
			CREATE TABLE workflow_runs (
				id VARCHAR(64) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(64) NOT NULL REFERENCES workflow_definitions(id) ON DELETE RESTRICT,
				workflow_version_id VARCHAR(64) NOT NULL REFERENCES workflow_versions(id) ON DELETE RESTRICT,
				subject_id VARCHAR(255) NOT NULL,
				subject JSONB NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('RUNNING', 'COMPLETED', 'CANCELLED')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE,
				cancel_reason TEXT,
				metadata JSONB,
				created_by VARCHAR(255)
			);

			CREATE INDEX idx_workflow_runs_subject ON workflow_runs(tenant_id, subject_id);
			CREATE INDEX idx_workflow_runs_version ON workflow_runs(workflow_version_id);

			CREATE TABLE node_runs (
				id VARCHAR(64) PRIMARY KEY,
				run_id VARCHAR(64) NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				sequence INTEGER NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('PENDING', 'IN_PROGRESS', 'COMPLETED', 'SKIPPED')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				outcome JSONB,
				assignees JSONB,
				due_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (run_id, sequence)
			);

			CREATE INDEX idx_node_runs_open_due ON node_runs(due_at) WHERE status IN ('PENDING', 'IN_PROGRESS');
		`,
	}
}
