package loadout

import (
	"fmt"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
)

// Validate checks the loadout for internal consistency and returns every
// problem found. A nil result means the loadout is usable.
func (l *Loadout) Validate() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf(format, args...)})
	}

	if l.Name == "" {
		add("loadout name is required")
	}
	if len(l.Slots) == 0 {
		add("loadout %q has no slots", l.Name)
	}

	names := make(map[string]int, len(l.Slots))
	for i, s := range l.Slots {
		if s.Name == "" {
			add("slot %d: name is required", i)
		} else if prev, dup := names[s.Name]; dup {
			add("slot %d: name %q already used by slot %d", i, s.Name, prev)
		} else {
			names[s.Name] = i
		}
		if !s.Tag.IsValid() {
			add("slot %d (%s): invalid tag %q", i, s.Name, s.Tag)
		}
	}

	items := make(map[string]equipment.ItemData, len(l.Items))
	for i, d := range l.Items {
		if d.ID == "" {
			add("item %d: id is required", i)
			continue
		}
		if _, dup := items[d.ID]; dup {
			add("item %q defined twice", d.ID)
		}
		if !d.Type.IsValid() {
			add("item %q: invalid type %q", d.ID, d.Type)
		}
		if d.Weight < 0 {
			add("item %q: negative weight", d.ID)
		}
		items[d.ID] = d
	}
	for _, d := range l.Items {
		for _, c := range d.Companions {
			if _, ok := items[equipment.NormalizeID(c)]; !ok {
				add("item %q: unknown companion %q", d.ID, c)
			}
		}
	}

	occupied := make(map[int]bool, len(l.Start))
	for i, st := range l.Start {
		if st.Slot < 0 || st.Slot >= len(l.Slots) {
			add("start %d: slot %d out of range", i, st.Slot)
			continue
		}
		if occupied[st.Slot] {
			add("start %d: slot %d already filled", i, st.Slot)
		}
		occupied[st.Slot] = true
		d, ok := items[st.Item]
		if !ok {
			add("start %d: unknown item %q", i, st.Item)
			continue
		}
		if cfg := l.Slots[st.Slot]; !cfg.CanEquipType(d.Type) {
			add("start %d: %s (%s) not allowed in slot %s", i, d.ID, d.Type, cfg.Name)
		}
		if st.Durability < 0 || st.Durability > 1 {
			add("start %d: durability %.2f out of range", i, st.Durability)
		}
	}
	return errs
}
