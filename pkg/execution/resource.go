package execution

// ResourceLimits bounds one block's resource consumption across every
// application it touches, per spec.md §4.3's per-block metering rule
// ("every host call that crosses into guest code consumes fuel").
type ResourceLimits struct {
	Fuel            uint64
	MaxOperations   uint32
	MaxMessages     uint32
	MaxBytes        uint64
	MaxPecuniary    uint64 // aggregate ids.Amount transferred/granted this block
}

// DefaultResourceLimits returns generous limits suitable for tests and for
// chains that have not configured their own.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		Fuel:          1_000_000,
		MaxOperations: 1024,
		MaxMessages:   1024,
		MaxBytes:      16 << 20,
		MaxPecuniary:  1 << 62,
	}
}

// ResourceController tracks a single block execution's consumption against
// its ResourceLimits, shared by every call frame the Runtime opens during
// that block (spec.md §4.3: resource accounting is block-scoped, not
// per-application-call-scoped).
type ResourceController struct {
	limits ResourceLimits

	fuelUsed      uint64
	operationsRun uint32
	messagesSent  uint32
	bytesUsed     uint64
	pecuniaryUsed uint64
}

// NewResourceController returns a controller enforcing limits for one
// block's execution.
func NewResourceController(limits ResourceLimits) *ResourceController {
	return &ResourceController{limits: limits}
}

// ConsumeFuel charges amount fuel, failing with ErrOutOfFuel once the
// block's budget is exhausted.
func (r *ResourceController) ConsumeFuel(amount uint64) error {
	if r.limits.Fuel != 0 && r.fuelUsed+amount > r.limits.Fuel {
		return ErrOutOfFuel
	}
	r.fuelUsed += amount
	return nil
}

// ChargeOperation accounts for one dispatched block operation.
func (r *ResourceController) ChargeOperation() error {
	if r.limits.MaxOperations != 0 && r.operationsRun+1 > r.limits.MaxOperations {
		return ErrOutOfFuel
	}
	r.operationsRun++
	return nil
}

// ChargeMessage accounts for one outgoing message queued via send_message.
func (r *ResourceController) ChargeMessage(payloadBytes int) error {
	if r.limits.MaxMessages != 0 && r.messagesSent+1 > r.limits.MaxMessages {
		return ErrOutOfFuel
	}
	if err := r.ChargeBytes(uint64(payloadBytes)); err != nil {
		return err
	}
	r.messagesSent++
	return nil
}

// ChargeBytes accounts for n bytes of payload moved through the sandbox
// this block: outgoing message payloads and application state writes.
// Operation bytes are not charged.
func (r *ResourceController) ChargeBytes(n uint64) error {
	if r.limits.MaxBytes != 0 && r.bytesUsed+n > r.limits.MaxBytes {
		return ErrOutOfFuel
	}
	r.bytesUsed += n
	return nil
}

// ChargePecuniary accounts for amount moved by a transfer or message grant.
func (r *ResourceController) ChargePecuniary(amount uint64) error {
	if r.limits.MaxPecuniary != 0 && r.pecuniaryUsed+amount > r.limits.MaxPecuniary {
		return ErrOutOfFuel
	}
	r.pecuniaryUsed += amount
	return nil
}

// FuelUsed reports fuel consumed so far this block.
func (r *ResourceController) FuelUsed() uint64 { return r.fuelUsed }
