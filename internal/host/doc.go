// Package host runs one polling coordinator per loaded PurrSong account.
//
// The Manager owns every Instance it creates. Nothing outside the Manager
// keeps a coordinator alive: Unload stops the run loop, waits for it to
// exit, closes the coordinator and only then detaches observers.
//
// Entry lifecycle:
//
//	not_loaded -> Setup -> loaded
//	                    -> setup_retry (transient failure, retried after a delay)
//	                    -> reauth_required (credentials rejected)
//	loaded -> runtime auth failure -> reauth_required
//	reauth_required -> Reauthenticate -> loaded
//
// Observers (the MQTT publisher, the API hub, the history recorder) are told
// when a coordinator is attached or detached and whenever an entry changes
// state.
package host
