package constants

// PIIType is the category assigned to a detected fragment.
type PIIType string

const (
	PIIEmail      PIIType = "EMAIL"
	PIIPhone      PIIType = "PHONE"
	PIINationalID PIIType = "NATIONAL_ID"
	PIIDate       PIIType = "DATE"
	PIIDOB        PIIType = "DOB"
	PIIAddress    PIIType = "ADDRESS"
	PIIName       PIIType = "NAME"
)

var allPIITypes = []PIIType{
	PIIEmail,
	PIIPhone,
	PIINationalID,
	PIIDate,
	PIIDOB,
	PIIAddress,
	PIIName,
}

// PIITypes returns every known type as strings.
func PIITypes() []string {
	result := make([]string, len(allPIITypes))
	for i, t := range allPIITypes {
		result[i] = string(t)
	}
	return result
}

// ReviewThreshold: detections strictly below it are flagged for human review.
const ReviewThreshold = 0.8

// EscalationThreshold: OCR fragments strictly below it are re-checked with the secondary recognizer.
const EscalationThreshold = 0.5
