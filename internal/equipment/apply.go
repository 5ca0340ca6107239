package equipment

// SlotChange records one slot's occupant before and after an operation.
type SlotChange struct {
	Slot   int          `json:"slot"`
	Before ItemInstance `json:"before"`
	After  ItemInstance `json:"after"`
}

// ChangedSlots returns the slot indices of changes, in order.
func ChangedSlots(changes []SlotChange) []int {
	out := make([]int, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Slot)
	}
	return out
}

// ApplyOperation mutates snap according to op and returns the slot changes.
// On error snap is left untouched. The snapshot version is incremented
// once per successful operation that changed anything.
func ApplyOperation(snap *StateSnapshot, op OperationRequest) ([]SlotChange, error) {
	var (
		changes []SlotChange
		err     error
	)

	switch op.Type {
	case OpEquip:
		changes, err = applyEquip(snap, op)
	case OpUnequip, OpDrop:
		changes, err = applyClear(snap, op)
	case OpMove, OpTransfer:
		changes, err = applyMove(snap, op)
	case OpSwap:
		changes, err = applySwap(snap, op)
	case OpQuickSwitch:
		err = applyQuickSwitch(snap, op)
	case OpRepair:
		changes, err = applyRepair(snap, op)
	case OpModify, OpUpgrade:
		changes, err = applyReplace(snap, op)
	case OpInspect, OpReload:
		err = requireOccupied(snap, op.TargetSlot)
	default:
		err = NewError(FailureInvalidRequest, NoSlot, "unsupported operation %s", op.Type)
	}
	if err != nil {
		return nil, err
	}

	for _, c := range changes {
		snap.Slots[c.Slot].Item = c.After
	}
	if len(changes) > 0 || op.Type == OpQuickSwitch {
		snap.Version++
	}
	return changes, nil
}

func validSlot(snap *StateSnapshot, idx int) error {
	if snap.Slot(idx) == nil {
		return NewError(FailureInvalidSlot, idx, "slot index out of range [0,%d)", len(snap.Slots))
	}
	return nil
}

func requireOccupied(snap *StateSnapshot, idx int) error {
	if err := validSlot(snap, idx); err != nil {
		return err
	}
	if snap.Slots[idx].IsEmpty() {
		return NewError(FailureInvalidSlot, idx, "slot is empty")
	}
	return nil
}

// sourceOf returns the slot an Unequip/Drop acts on. Clients may send the
// index in either field.
func sourceOf(op OperationRequest) int {
	if op.SourceSlot >= 0 {
		return op.SourceSlot
	}
	return op.TargetSlot
}

func applyEquip(snap *StateSnapshot, op OperationRequest) ([]SlotChange, error) {
	if err := validSlot(snap, op.TargetSlot); err != nil {
		return nil, err
	}
	if !op.Item.IsValid() {
		return nil, NewError(FailureInvalidRequest, op.TargetSlot, "equip requires an item")
	}
	if op.Item.InstanceID == "" {
		return nil, NewError(FailureInvalidRequest, op.TargetSlot, "equip of %s has no instance id", op.Item.ItemID)
	}
	target := snap.Slots[op.TargetSlot]
	if !target.IsEmpty() {
		return nil, NewError(FailureSlotOccupied, op.TargetSlot, "slot holds %s", target.Item.ItemID)
	}
	if at := snap.FindInstance(op.Item.InstanceID); at != NoSlot {
		return nil, NewError(FailureUniqueConstraint, at, "instance %s already equipped", op.Item.InstanceID)
	}
	item := op.Item.Clone()
	item.AnchorIndex = op.TargetSlot
	return []SlotChange{{Slot: op.TargetSlot, Before: ItemInstance{}, After: item}}, nil
}

func applyClear(snap *StateSnapshot, op OperationRequest) ([]SlotChange, error) {
	src := sourceOf(op)
	if err := requireOccupied(snap, src); err != nil {
		return nil, err
	}
	if src == snap.ActiveWeaponSlot {
		snap.ActiveWeaponSlot = NoSlot
	}
	return []SlotChange{{Slot: src, Before: snap.Slots[src].Item.Clone(), After: ItemInstance{}}}, nil
}

func applyMove(snap *StateSnapshot, op OperationRequest) ([]SlotChange, error) {
	if err := requireOccupied(snap, op.SourceSlot); err != nil {
		return nil, err
	}
	if err := validSlot(snap, op.TargetSlot); err != nil {
		return nil, err
	}
	if op.SourceSlot == op.TargetSlot {
		return nil, NewError(FailureInvalidRequest, op.TargetSlot, "source and target are the same slot")
	}
	if !snap.Slots[op.TargetSlot].IsEmpty() {
		return nil, NewError(FailureSlotOccupied, op.TargetSlot, "slot holds %s", snap.Slots[op.TargetSlot].Item.ItemID)
	}
	moved := snap.Slots[op.SourceSlot].Item.Clone()
	moved.AnchorIndex = op.TargetSlot
	if snap.ActiveWeaponSlot == op.SourceSlot {
		snap.ActiveWeaponSlot = op.TargetSlot
	}
	return []SlotChange{
		{Slot: op.SourceSlot, Before: snap.Slots[op.SourceSlot].Item.Clone(), After: ItemInstance{}},
		{Slot: op.TargetSlot, Before: ItemInstance{}, After: moved},
	}, nil
}

func applySwap(snap *StateSnapshot, op OperationRequest) ([]SlotChange, error) {
	if err := validSlot(snap, op.SourceSlot); err != nil {
		return nil, err
	}
	if err := validSlot(snap, op.TargetSlot); err != nil {
		return nil, err
	}
	if op.SourceSlot == op.TargetSlot {
		return nil, NewError(FailureInvalidRequest, op.TargetSlot, "source and target are the same slot")
	}
	a := snap.Slots[op.SourceSlot].Item.Clone()
	b := snap.Slots[op.TargetSlot].Item.Clone()
	if !a.IsValid() && !b.IsValid() {
		return nil, NewError(FailureInvalidSlot, op.SourceSlot, "both slots are empty")
	}
	toTarget, toSource := a.Clone(), b.Clone()
	if toTarget.IsValid() {
		toTarget.AnchorIndex = op.TargetSlot
	}
	if toSource.IsValid() {
		toSource.AnchorIndex = op.SourceSlot
	}
	switch snap.ActiveWeaponSlot {
	case op.SourceSlot:
		snap.ActiveWeaponSlot = op.TargetSlot
	case op.TargetSlot:
		snap.ActiveWeaponSlot = op.SourceSlot
	}
	return []SlotChange{
		{Slot: op.SourceSlot, Before: a, After: toSource},
		{Slot: op.TargetSlot, Before: b, After: toTarget},
	}, nil
}

func applyQuickSwitch(snap *StateSnapshot, op OperationRequest) error {
	if err := requireOccupied(snap, op.TargetSlot); err != nil {
		return err
	}
	if !snap.Slots[op.TargetSlot].Config.IsWeaponSlot() {
		return NewError(FailureIncompatibleType, op.TargetSlot, "quick switch target is not a weapon slot")
	}
	snap.ActiveWeaponSlot = op.TargetSlot
	return nil
}

func applyRepair(snap *StateSnapshot, op OperationRequest) ([]SlotChange, error) {
	if err := requireOccupied(snap, op.TargetSlot); err != nil {
		return nil, err
	}
	before := snap.Slots[op.TargetSlot].Item.Clone()
	after := before.Clone()
	after.Durability = 1.0
	return []SlotChange{{Slot: op.TargetSlot, Before: before, After: after}}, nil
}

func applyReplace(snap *StateSnapshot, op OperationRequest) ([]SlotChange, error) {
	if err := requireOccupied(snap, op.TargetSlot); err != nil {
		return nil, err
	}
	before := snap.Slots[op.TargetSlot].Item.Clone()
	if op.Item.ItemID != before.ItemID || op.Item.InstanceID != before.InstanceID {
		return nil, NewError(FailureInvalidRequest, op.TargetSlot, "modify must target the same instance")
	}
	after := op.Item.Clone()
	after.AnchorIndex = op.TargetSlot
	return []SlotChange{{Slot: op.TargetSlot, Before: before, After: after}}, nil
}
