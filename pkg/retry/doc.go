// Package retry provides exponential backoff retry logic for transient failures.
//
// The TCP provider dials an announced peer with Dial(); the directory and broker
// clients use Persistent() during daemon startup. Errors that retrying cannot fix,
// such as a handshake rejection, are wrapped with NonRetryable and returned at once:
//
//	conn, err := retry.DoWithResult(ctx, retry.Dial(), func() (net.Conn, error) {
//	    c, err := d.DialContext(ctx, "tcp", addr)
//	    if err != nil {
//	        return nil, err
//	    }
//	    if err := negotiate(c); err != nil {
//	        c.Close()
//	        return nil, retry.NonRetryable(err)
//	    }
//	    return c, nil
//	})
//
// All operations stop as soon as ctx is cancelled, during an attempt or during the
// backoff sleep.
package retry
