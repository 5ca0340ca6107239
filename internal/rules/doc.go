// Package rules validates equipment operations before they are applied.
//
// Four engines each check one category of constraint:
//
//	Compatibility  slot type sets, item durability       (priority Critical)
//	Requirement    level, class, tags, attributes         (priority High)
//	Weight         carry capacity and encumbrance         (priority Normal)
//	Conflict       exclusions, item sets, slot conflicts  (priority Low)
//
// The Coordinator runs the enabled engines in priority order against a
// shadow copy of the player's snapshot with the operation already applied,
// and aggregates their CheckResults. Evaluation stops at the first Critical
// failure.
//
// Every engine follows the same two-tier policy: structural checks fail hard
// (Error or Critical, not overridable) while soft checks produce passing
// Warnings with a reduced confidence. Confidence compounds multiplicatively
// across the pipeline.
//
// The Coordinator holds no player state. All state arrives in the Context
// argument, so concurrent evaluations for different players are safe. Only
// per-engine execution metrics are shared, under their own mutex.
package rules
