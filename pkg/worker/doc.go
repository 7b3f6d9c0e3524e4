// Package worker provides a generic bounded worker pool.
//
// The TCP consumer hands every accepted connection to a Pool so a burst of
// dialing peers cannot spawn unbounded handshake goroutines:
//
//	pool, err := worker.NewPool(4, 64, c.handshake,
//	    worker.WithMetricsRegistry[net.Conn](deps.Metrics, "tcp_handshake"))
//	if err != nil {
//	    return err
//	}
//	_ = pool.Start(ctx)
//	defer pool.Stop(time.Second)
//
//	if err := pool.Submit(conn); err != nil {
//	    conn.Close() // queue full: refuse rather than stall the accept loop
//	}
//
// Submit never blocks; SubmitWait waits for queue space until its context ends.
// Stop closes the queue and lets workers drain what was already accepted.
package worker
