// Package health provides composable probes and the HTTP handlers that
// expose them as liveness and readiness endpoints.
//
// [All] combines probes, [Timeout] bounds a slow dependency check and
// [Ping] adapts anything with a Ping(ctx) method, such as the Redis rate
// limit store.
//
// [ShutdownGate] fails readiness as soon as shutdown starts so load
// balancers stop routing new requests before in-flight ones drain.
package health
