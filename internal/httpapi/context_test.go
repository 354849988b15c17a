package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithBaseCancelsOnShutdown(t *testing.T) {
	base, shutdown := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)

	ctx, cancel := withBase(context.Background())
	defer cancel()
	shutdown()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("request context not canceled with the base context")
	}
	if !errors.Is(context.Cause(ctx), context.Canceled) {
		t.Fatalf("cause: %v", context.Cause(ctx))
	}
}

func TestWithBaseFollowsRequest(t *testing.T) {
	req, cancelReq := context.WithCancel(context.Background())
	ctx, cancel := withBase(req)
	defer cancel()
	cancelReq()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("request cancellation not propagated")
	}
}

func TestConfigSetters(t *testing.T) {
	SetMaxBodyBytes(-1)
	if maxBodyBytes != defaultMaxBodyBytes {
		t.Fatalf("max body default: %d", maxBodyBytes)
	}
	SetOfferTimeout(0)
	if offerTimeout != defaultOfferTimeout {
		t.Fatalf("offer timeout default: %v", offerTimeout)
	}
	SetCORSOptions(true, []string{"*"}, nil, nil)
	if corsOpts == nil || len(corsOpts.AllowedMethods) == 0 || len(corsOpts.AllowedHeaders) == 0 {
		t.Fatalf("cors defaults not applied: %+v", corsOpts)
	}
	SetCORSOptions(false, nil, nil, nil)
	if corsOpts != nil {
		t.Fatalf("cors not disabled")
	}
}
