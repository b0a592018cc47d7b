// Package thingshadow is a device shadow client over MQTT.
//
// A shadow is a JSON document held by the broker side that mirrors the
// reported and desired state of one thing. The client publishes to the
// AWS IoT style topics
//
//	$aws/things/<thing>/shadow/update
//	$aws/things/<thing>/shadow/get
//
// and correlates the accepted/rejected responses by clientToken. Desired-state
// changes arrive on .../update/delta and are routed to registered fields.
//
// # Connecting
//
//	client, err := thingshadow.Dial(
//	    thingshadow.WithEndpoint("example-ats.iot.eu-west-1.amazonaws.com", 8883),
//	    thingshadow.WithThingName("sensor-1"),
//	    thingshadow.WithCertificateDir("./certs"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
// WithCertificateDir expects rootCA.crt, cert.pem and privkey.pem. Use
// WithCertificates for other paths, WithPKCS12 for a PKCS#12 bundle or WithTLS
// for a prepared configuration.
//
// # Reporting state
//
//	doc := thingshadow.NewDocument(0)
//	if err := doc.AddReported(stateField, temperatureField); err != nil {
//	    return err
//	}
//	payload, err := doc.Finalize()
//	if err != nil {
//	    return err
//	}
//	err = client.Update(ctx, &thingshadow.UpdateRequest{
//	    Document: payload,
//	    Callback: onAck,
//	})
//
// # Deltas
//
//	client.RegisterDelta(ctx, &thingshadow.Field{
//	    Key:  "state",
//	    Type: thingshadow.FieldInt,
//	    OnDelta: func(f *thingshadow.Field, value json.RawMessage) {
//	        // apply the desired value
//	    },
//	})
//
// Deltas whose version is not newer than the last known version are dropped
// unless WithDiscardOldDeltas(false) is set.
//
// # Yield
//
// Incoming messages are queued by the transport and dispatched only inside
// Yield, on the caller's goroutine. A device loop therefore needs no locks:
//
//	for {
//	    err := client.Yield(ctx, 200*time.Millisecond)
//	    if !thingshadow.IsRecoverable(err) {
//	        break
//	    }
//	    // ErrReconnecting and ErrReconnected are recoverable
//	}
//
// Yield also expires requests that got no response within the ack timeout
// (WithAckTimeout, 4s by default) and reports them as AckTimeout.
//
// # Transports
//
// The default transport is the Eclipse Paho MQTT client over TCP or TLS.
// WithProxy dials through an HTTP CONNECT or SOCKS5 proxy and WithQUIC carries
// MQTT over a QUIC stream. WithTransport replaces the transport entirely.
package thingshadow
