// Copyright 2025 Outreach Corporation. All Rights Reserved.

// Package pubsub implements the SUBSCRIBE/PSUBSCRIBE subscriber (component
// G), grounded on original_source/include/qclient/BaseSubscriber.hh. Unlike
// vhclient.Client, a Subscriber's connection carries unsolicited pushed
// messages rather than call/response pairs, so it runs its own connection
// loop directly over transport and resp instead of going through a Stager.
package pubsub

// Kind says which shape a Message is.
type Kind int

const (
	KindMessage Kind = iota
	KindPMessage
	KindSubscribe
	KindUnsubscribe
	KindPSubscribe
	KindPUnsubscribe
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindPMessage:
		return "pmessage"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindPSubscribe:
		return "psubscribe"
	case KindPUnsubscribe:
		return "punsubscribe"
	default:
		return "unknown"
	}
}

// Message is a translated pub/sub push (spec.md §4.G).
type Message struct {
	Kind    Kind
	Channel string
	Pattern string // only set for KindPMessage / KindPSubscribe / KindPUnsubscribe
	Payload []byte
	Count   int64 // subscription count, only set for the four ack kinds
}

// Listener receives every Message delivered on the subscriber's
// connection, including resubscription acks issued after a reconnect.
type Listener func(Message)
