package log

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldOrderID   = "order_id"
	FieldProductID = "product_id"
	FieldJobID     = "job_id"
	FieldCopy      = "copy"
	FieldPath      = "path"
	FieldPrinter   = "printer"
	FieldAction    = "action"
	FieldSerial    = "serial"
)
