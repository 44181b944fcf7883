package pii

// Type is the closed enumeration of PII categories the engine can detect.
type Type string

const (
	TypeFace       Type = "face"
	TypeSignature  Type = "signature"
	TypeBarcode    Type = "barcode"
	TypeQRCode     Type = "qr_code"
	TypeName       Type = "name"
	TypeEmail      Type = "email"
	TypePhone      Type = "phone"
	TypeAddress    Type = "address"
	TypeSSN        Type = "ssn"
	TypeIDNumber   Type = "id_number"
	TypeCreditCard Type = "credit_card"
	TypeDOB        Type = "date_of_birth"
	TypeIPAddress  Type = "ip_address"
)

// visualTypes partitions the enumeration between CV-detected and
// NLP-detected categories.
var visualTypes = map[Type]bool{
	TypeFace:      true,
	TypeSignature: true,
	TypeBarcode:   true,
	TypeQRCode:    true,
}

// sensitiveTypes flags the subset that earns a ranking boost.
var sensitiveTypes = map[Type]bool{
	TypeSSN:        true,
	TypeCreditCard: true,
	TypeIDNumber:   true,
	TypeFace:       true,
	TypeSignature:  true,
	TypeDOB:        true,
}

// IsVisual reports whether t belongs to the visual partition.
func (t Type) IsVisual() bool { return visualTypes[t] }

// IsText reports whether t belongs to the text partition.
func (t Type) IsText() bool { return !visualTypes[t] }

// IsSensitive reports whether t is flagged sensitive for ranking boosts.
func (t Type) IsSensitive() bool { return sensitiveTypes[t] }

// Method identifies which detector produced a PIIDetection.
type Method string

const (
	MethodCV      Method = "cv"
	MethodNLP     Method = "nlp"
	MethodHybrid  Method = "hybrid"
	MethodManual  Method = "manual"
	MethodUnknown Method = "unknown"
)
