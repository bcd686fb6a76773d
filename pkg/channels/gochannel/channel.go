// Package gochannel provides the in-memory watermill pub/sub used for single-process deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	bufferSize     = 1000
	testBufferSize = 10
)

// CreateChannel returns one GoChannel as both publisher and subscriber.
// Messages published before a subscriber exists are dropped.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	return newPubSub(logger, gochannel.Config{OutputChannelBuffer: bufferSize})
}

// CreateTestChannel keeps published messages for late subscribers and blocks Publish until they are acknowledged.
func CreateTestChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	return newPubSub(logger, gochannel.Config{
		OutputChannelBuffer:            testBufferSize,
		Persistent:                     true,
		BlockPublishUntilSubscriberAck: true,
	})
}

func newPubSub(logger watermill.LoggerAdapter, config gochannel.Config) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(config, logger)

	return pubSub, pubSub, nil
}
