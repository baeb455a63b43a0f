// Package wsrm is a WS-ReliableMessaging sequence lifecycle and reliability engine for Go.
//
// It tracks every reliable-messaging sequence through its lifecycle, keeps protocol state
// in a transactional property store, retransmits unacknowledged messages with exponential
// backoff, expires inactive sequences and answers status queries. Envelope serialization
// and the wire transport stay outside: the engine produces and consumes abstract
// model.Message values through a Sender supplied by the caller and Engine.Receive.
//
// # Features
//
//   - Outbound (initiator) and inbound (responder) sequences, with offered reverse sequences
//   - Protocol versions 1.0 and 1.1 (closing, ack requests, terminate confirmation)
//   - Retransmission: 6s → 12s → 24s → ... capped at 30m, failing after 10 retransmissions
//   - Exactly-once or at-least-once delivery, optionally in order
//   - Inactivity timeout sweep and removal of old terminal snapshots
//   - Pluggable storage: in-memory, Badger, or SQL (MySQL, PostgreSQL, SQLite) via Relica
//   - Options Pattern configuration, pluggable Logger and NotificationService
//   - Prometheus metrics
//   - Embedded SQL migrations
//
// # Quick Start
//
// Create and initialize an engine:
//
//	engine, err := wsrm.NewEngine(
//	    wsrm.WithSender(sender),                   // transport send primitive
//	    wsrm.WithLogger(wsrm.NewSlogLogger(nil)),  // structured logging
//	    wsrm.WithHandler(handler),                 // inbound application messages
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	engine.Start(ctx)            // background retransmission and timeouts
//	defer engine.Shutdown(ctx)
//
// Send messages reliably; the sequence is created on first use:
//
//	n, err := engine.Send(ctx, "http://peer/service", "orders", payload, wsrm.SendOptions{})
//	n, err = engine.Send(ctx, "http://peer/service", "orders", last, wsrm.SendOptions{LastMessage: true})
//
// Wait for every message to be acknowledged and the sequence to terminate:
//
//	report, err := engine.WaitUntilSequenceCompleted(ctx, "http://peer/service", "orders", time.Minute)
//
// Feed messages arriving from the peer into the engine and send back the reply:
//
//	reply, err := engine.Receive(ctx, msg)
//
// # Sequence Lifecycle
//
//	Outbound: INITIAL → ESTABLISHING → ESTABLISHED → CLOSING → TERMINATED
//	          (TIMED_OUT from any non-terminal state)
//	Inbound:  ESTABLISHED → TERMINATED | TIMED_OUT
//
// Reports collapse ESTABLISHING into INITIAL and CLOSING into ESTABLISHED.
//
// # Storage
//
// All state is a set of (sequence, name) → value properties plus one send record per
// message in flight. Transactions lock the sequences they touch, so operations on the
// same sequence serialize while unrelated sequences proceed in parallel. SQL backends
// need the tables created by ApplyMigrations:
//
//	wsrm_sequence_property  - sequence properties and protocol bindings
//	wsrm_send_record        - messages awaiting acknowledgement
//
// See the examples/ directory and cmd/wsrm-server for complete programs.
package wsrm
