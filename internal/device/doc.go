// Package device provides the attribute store for the CoreIOT gateway.
//
// The Store mirrors named device attributes (for example the LED state) as
// the gateway last knew them. It is an optimistic mirror, not the platform's
// truth: values written by a local command are held unconfirmed until the
// transport accepts the publish, and shared attribute values received from
// the platform are stored unconfirmed.
//
// # Speculative writes
//
// A command writes its value first and settles it afterwards:
//
//	next, prev, hadPrev := store.Swap("ledState", true)
//	if err := publish(); err != nil {
//	    store.Revert(next, prev, hadPrev) // no-op if a newer write landed
//	    return err
//	}
//	store.Confirm(next)
//
// Every write carries a store-wide Revision, so Revert and Confirm never
// clobber a value written after the speculative one.
//
// # Thread Safety
//
// All Store methods are safe for concurrent use. The change observer set by
// SetOnChange runs outside the lock.
package device
