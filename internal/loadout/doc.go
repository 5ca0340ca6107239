// Package loadout loads slot layouts, item catalogs and starting
// characters from YAML or CUE.
//
// A loadout is read-only after Load. Configs and Catalog hand out the
// forms the equipment and rules packages consume.
//
// CUE sources are unified with an embedded #Loadout schema before
// decoding, so type errors carry file positions. YAML sources are decoded
// strictly: unknown fields are rejected.
package loadout
