package types

// MappingState is the binding between the stream and this consumer.
//
// BatchSize stays within [1, max batch size]. A disabled binding receives no deliveries
// until it is enabled again, keeping whatever batch size was last written.
type MappingState struct {
	BindingID string `json:"bindingId"`
	BatchSize int    `json:"batchSize"`
	Enabled   bool   `json:"enabled"`
}

// Adjustment names the controller action taken after a batch or a scheduled tick.
type Adjustment string

// Controller actions.
const (
	AdjustmentNone      Adjustment = "none"
	AdjustmentIncrement Adjustment = "increment"
	AdjustmentDecrement Adjustment = "decrement"
	AdjustmentDisable   Adjustment = "disable"
	AdjustmentEnable    Adjustment = "enable"
)
