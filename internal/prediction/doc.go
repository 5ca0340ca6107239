// Package prediction applies equipment operations optimistically on the
// client and reconciles them with the authoritative server state.
//
// Each prediction records the local state before and after its operation.
// Confirming a prediction whose server result disagrees, rolling it back, or
// letting it expire rewinds the local container to the prediction's Before
// snapshot and reapplies every later prediction in creation order. Later
// predictions that no longer apply are dropped and reported as corrections.
//
// Reconcile takes a server snapshot, drops the predictions the server state
// already reflects (matched by blake3 fingerprint), restores the server
// state and reapplies the rest.
//
// Confidence tracks recent success. Operation types carry a base priority
// (QuickSwitch highest, Drop lowest); ShouldPredict refuses operations whose
// priority scaled by confidence falls below one half.
package prediction
