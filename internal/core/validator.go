package core

import (
	"context"
	"fmt"
	"time"
)

// DefaultConnectTimeout bounds connection attempts.
const DefaultConnectTimeout = 10 * time.Second

// Validate reports whether a connection can be opened with p. It opens a
// connection, pings it and closes it again. It never panics; any failure
// comes back as false plus a diagnostic error.
func Validate(ctx context.Context, p ConnectionProfile) (bool, error) {
	d, err := LookupDriver(driverName(p))
	if err != nil {
		return false, newError(KindRequest, StateValidating, p.Driver, err)
	}
	return validateWith(ctx, d, p, DefaultConnectTimeout)
}

func validateWith(ctx context.Context, d Driver, p ConnectionProfile, timeout time.Duration) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, newError(KindConnection, StateValidating, p.String(), fmt.Errorf("panic: %v", r))
		}
	}()

	conn, err := connect(ctx, d, p, timeout, StateValidating)
	if err != nil {
		return false, err
	}
	defer conn.Close(context.WithoutCancel(ctx))

	pingCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return false, classify(ctx, KindConnection, StateValidating, p.String(), err)
	}
	return true, nil
}

// connect opens a connection, bounding only the dial by timeout.
func connect(ctx context.Context, d Driver, p ConnectionProfile, timeout time.Duration, stage State) (Conn, error) {
	dialCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.Connect(dialCtx, p)
	if err != nil {
		return nil, classify(ctx, KindConnection, stage, p.String(), err)
	}
	return conn, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// driverName defaults an empty profile driver to postgres, the original
// target of this tool.
func driverName(p ConnectionProfile) string {
	if p.Driver == "" {
		return "postgres"
	}
	return p.Driver
}
