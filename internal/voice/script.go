package voice

import (
	"fmt"
	"strings"

	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

const maxPreviewLines = 5

var openers = map[models.DocumentType]string{
	models.DocPrescription:     "I'm calling about a prescription we recently received for you.",
	models.DocLabReport:        "I'm calling about lab results we recently received for you.",
	models.DocDischargeSummary: "I'm calling about your recent hospital discharge summary.",
	models.DocConsultationNote: "I'm calling about notes from your recent consultation.",
	models.DocImagingReport:    "I'm calling about an imaging report we recently received for you.",
	models.DocReferral:         "I'm calling about a referral letter we recently received for you.",
}

// BuildScript renders the agent prompt for one verification call.
func BuildScript(req CallRequest) string {
	name := strings.TrimSpace(req.PatientName)
	if name == "" {
		name = "the patient"
	}
	opener, ok := openers[req.DocumentType]
	if !ok {
		opener = "I'm calling about a medical document we recently received for you."
	}

	var sb strings.Builder
	sb.WriteString("You are a friendly assistant from the records office verifying a patient's medical document over the phone. ")
	sb.WriteString("Keep the call short, speak clearly and never give medical advice.\n\n")

	fmt.Fprintf(&sb, "1. Greet the patient and ask to speak with %s. Say: \"%s\"\n", name, opener)
	fmt.Fprintf(&sb, "2. Confirm the patient's full name. We have it recorded as \"%s\". If it is wrong, ask them to spell the correct name.\n", name)
	fmt.Fprintf(&sb, "3. Confirm the best phone number to reach them. We have \"%s\" on file.\n", req.Phone)

	if items := keyItems(req); len(items) > 0 {
		sb.WriteString("4. Read back these key details from the document one at a time and ask the patient to confirm or correct each:\n")
		for _, item := range items {
			fmt.Fprintf(&sb, "   - %s\n", item)
		}
	} else {
		sb.WriteString("4. Ask whether the patient has any corrections to the document we received.\n")
	}

	sb.WriteString("5. Ask if there is anything else they would like added to their record.\n")
	sb.WriteString("6. Thank the patient, tell them their record will be updated and end the call.\n")
	return sb.String()
}

// keyItems prefers structured fields and falls back to the first lines of
// the extracted text.
func keyItems(req CallRequest) []string {
	var items []string
	if s := req.Structured; s != nil {
		for _, d := range stringList(s["diagnosis"]) {
			items = append(items, "Diagnosis: "+d)
		}
		if meds, ok := s["medications"].([]any); ok {
			for _, m := range meds {
				med, ok := m.(map[string]any)
				if !ok {
					continue
				}
				parts := []string{}
				for _, key := range []string{"name", "dosage", "frequency"} {
					if v, ok := med[key].(string); ok && v != "" {
						parts = append(parts, v)
					}
				}
				if len(parts) > 0 {
					items = append(items, "Medication: "+strings.Join(parts, " "))
				}
			}
		}
	}
	if len(items) == 0 && req.Extracted != nil {
		for _, line := range strings.Split(req.Extracted.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			items = append(items, line)
			if len(items) == maxPreviewLines {
				break
			}
		}
	}
	if len(items) > maxPreviewLines {
		items = items[:maxPreviewLines]
	}
	return items
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
