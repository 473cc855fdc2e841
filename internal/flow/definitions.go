// Package flow drives the phone-verified data-collection conversations of
// CivicPipe. Flows are described as step tables and interpreted by a single
// Engine; adding a flow means registering a new Definition.
package flow

import (
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/BTreeMap/CivicPipe/internal/attachment"
	"github.com/BTreeMap/CivicPipe/internal/models"
)

// StepKind selects the handler the engine uses for a step.
type StepKind int

const (
	// KindText stores non-empty free text, optionally validated.
	KindText StepKind = iota
	// KindOptionalText stores free text unless it is one of the skip words.
	KindOptionalText
	// KindPhone normalizes a phone number and issues a one-time code.
	KindPhone
	// KindVerify checks one-time codes and handles resend requests.
	KindVerify
	// KindAttachment captures an image attachment.
	KindAttachment
	// KindClassify stores free text and asks the classifier for a category.
	KindClassify
	// KindCategory confirms, replaces or skips the suggested category.
	KindCategory
	// KindChoice accepts one of a fixed list of labels, by label or number.
	KindChoice
	// KindLocation accepts shared coordinates or a free-text place.
	KindLocation
)

// Validator checks and transforms step input. The error text is shown to
// the user as-is.
type Validator func(input string) (string, error)

// Step is one named state of a flow.
type Step struct {
	Name   models.StepName
	Kind   StepKind
	Field  models.FieldKey
	Prompt func(s *models.Session) string

	Validate  Validator
	SkipWords []string
	Choices   []string

	// Attachment steps.
	Required bool
	Purpose  attachment.Purpose
	Rejected string // shown when a non-image file or plain text arrives

	// Accepted is sent ahead of the next prompt once the step succeeds.
	Accepted string
}

// IsSkip reports whether input is one of the step's skip words.
func (s *Step) IsSkip(input string) bool {
	for _, w := range s.SkipWords {
		if strings.EqualFold(strings.TrimSpace(input), w) {
			return true
		}
	}
	return false
}

// Definition describes one flow.
type Definition struct {
	Kind       models.FlowKind
	Command    string
	Intro      string
	Cancelled  string
	Processing string
	Steps      []Step

	// Summary and Caption produce the completion texts for a saved record.
	Summary func(rec models.Record) string
	Caption func(rec models.Record) string
}

// First returns the name of the first step.
func (d *Definition) First() models.StepName {
	return d.Steps[0].Name
}

// Step returns the step named name.
func (d *Definition) Step(name models.StepName) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// Next returns the step following name, or StateComplete after the last one.
func (d *Definition) Next(name models.StepName) models.StepName {
	for i := range d.Steps {
		if d.Steps[i].Name == name && i+1 < len(d.Steps) {
			return d.Steps[i+1].Name
		}
	}
	return models.StateComplete
}

var registry = make(map[models.FlowKind]*Definition)

// Register associates a flow kind with its definition.
func Register(def *Definition) {
	registry[def.Kind] = def
}

// Get retrieves the definition for a flow kind.
func Get(kind models.FlowKind) (*Definition, bool) {
	def, ok := registry[kind]
	return def, ok
}

// ByCommand finds the flow started by an entry command such as "/rti".
func ByCommand(cmd string) (*Definition, bool) {
	for _, kind := range models.AllFlows {
		if def, ok := registry[kind]; ok && strings.EqualFold(def.Command, cmd) {
			return def, true
		}
	}
	return nil, false
}

func init() {
	Register(filingFlow())
	Register(informationRequestFlow())
	Register(violationReportFlow())
}

// GeneralCategory replaces the category when the user skips confirmation.
const GeneralCategory = "General Complaint"

// Violation categories offered by the violation-report flow.
var ViolationTypes = []string{
	"Illegal Parking",
	"Wrong Side Driving",
	"Traffic Signal Violation",
	"Over Speeding",
	"Other Violation",
}

var (
	optionalSkip = []string{"skip"}
	detailSkip   = []string{"no", "skip", "none"}
	photoSkip    = []string{"skip", "no"}
	locationSkip = []string{"skip location", "skip"}
	acceptWords  = []string{"yes", "correct", "ok", "y"}
)

func static(text string) func(*models.Session) string {
	return func(*models.Session) string { return text }
}

func verifyPrompt(s *models.Session) string {
	return fmt.Sprintf("📲 OTP sent to %s. Please enter the 6-digit code.\n\nType *resend* for a new code.", s.Fields.Value(models.FieldPhone))
}

func categoryPrompt(s *models.Session) string {
	if s.SuggestedCategory == "" {
		return "What *type of complaint* is this? (e.g., Theft, Fraud, Harassment)"
	}
	return fmt.Sprintf("✅ I understand this is about:\n\n📋 *%s*\n\nIs this correct?\n• Type 'yes' to confirm\n• Type the correct complaint type\n• Type 'skip' if not sure", s.SuggestedCategory)
}

func choicePrompt(title string, choices []string) func(*models.Session) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for i, c := range choices {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c)
	}
	b.WriteString("\n\nReply with the number or the name.")
	return static(b.String())
}

// ValidateAge accepts whole-number ages from 1 to 120.
func ValidateAge(input string) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 || n > 120 {
		return "", errors.New("⚠️ Please enter your age as a number, for example 34.")
	}
	return strconv.Itoa(n), nil
}

// ValidateEmail accepts a single bare email address.
func ValidateEmail(input string) (string, error) {
	input = strings.TrimSpace(input)
	addr, err := mail.ParseAddress(input)
	if err != nil || addr.Address != input {
		return "", errors.New("⚠️ That doesn't look like an email address. Please send it again, or type 'skip'.")
	}
	return addr.Address, nil
}

func nameStep(name models.StepName, prompt string) Step {
	return Step{Name: name, Kind: KindText, Field: models.FieldName, Prompt: static(prompt)}
}

func phoneSteps(phone, verify models.StepName, verified string) []Step {
	return []Step{
		{Name: phone, Kind: KindPhone, Field: models.FieldPhone, Prompt: static("What is your *phone number*?")},
		{Name: verify, Kind: KindVerify, Prompt: verifyPrompt, Accepted: verified},
	}
}

func emailStep(name models.StepName) Step {
	return Step{
		Name:      name,
		Kind:      KindOptionalText,
		Field:     models.FieldEmail,
		Prompt:    static("What is your *email address*? (Type 'skip' to skip)"),
		Validate:  ValidateEmail,
		SkipWords: optionalSkip,
	}
}

func identityStep(name models.StepName, what string) Step {
	return Step{
		Name: name,
		Kind: KindAttachment,
		Prompt: static("📎 Please *upload a clear photo of your Aadhaar card* to verify your " + what + ".\n\n" +
			"• Tap the attachment icon and choose the Aadhaar image\n" +
			"• Make sure your name and number are visible\n" +
			"• Type 'cancel' to stop the process"),
		Required: true,
		Purpose:  attachment.PurposeIdentity,
		Rejected: "⚠️ Aadhaar photo is required to verify the genuineness of your " + what + ".\nPlease upload the Aadhaar *as an image file* (jpg/png).",
		Accepted: "✅ Aadhaar card received.",
	}
}

func addressStep(name models.StepName) Step {
	return Step{
		Name:   name,
		Kind:   KindText,
		Field:  models.FieldAddress,
		Prompt: static("Please provide your *complete address*:\nHouse/Street, Village/Town, Mandal, District."),
	}
}

func filingFlow() *Definition {
	steps := []Step{
		nameStep(models.StepFilingName, "What is your *full name*?"),
		{Name: models.StepFilingGuardian, Kind: KindText, Field: models.FieldGuardianName, Prompt: static("What is your *Father's/Husband's name*?")},
		{Name: models.StepFilingAge, Kind: KindText, Field: models.FieldAge, Prompt: static("What is your *age*?"), Validate: ValidateAge},
	}
	steps = append(steps, phoneSteps(models.StepFilingPhone, models.StepFilingVerify, "✅ Phone verified successfully!")...)
	steps = append(steps,
		emailStep(models.StepFilingEmail),
		identityStep(models.StepFilingIdentity, "complaint"),
		addressStep(models.StepFilingAddress),
		Step{
			Name:   models.StepFilingDescription,
			Kind:   KindClassify,
			Field:  models.FieldIncidentSummary,
			Prompt: static("*Describe what happened:*\n\nExplain the incident in your own words. The AI will understand and suggest the complaint type."),
		},
		Step{Name: models.StepFilingCategory, Kind: KindCategory, Field: models.FieldCategory, Prompt: categoryPrompt},
		Step{Name: models.StepFilingDate, Kind: KindText, Field: models.FieldIncidentDate, Prompt: static("*When did the incident occur?* (Date and time)")},
		Step{
			Name:   models.StepFilingLocation,
			Kind:   KindText,
			Field:  models.FieldIncidentLocation,
			Prompt: static("*Where did the incident occur?* (Location/Address)\n\nInclude: Area/Landmark, City/Village, Mandal, District"),
		},
		Step{
			Name:      models.StepFilingDetails,
			Kind:      KindOptionalText,
			Field:     models.FieldAdditionalDetails,
			Prompt:    static("Any *additional details*? (Witnesses, evidence, sequence of events)\n\nOr type 'no' to skip"),
			SkipWords: detailSkip,
		},
	)

	return &Definition{
		Kind:       models.FlowFiling,
		Command:    "/complaint",
		Intro:      "📝 *Complaint Filing Assistant*\n\nI'll help you prepare a complaint/FIR. Please answer the following questions.",
		Cancelled:  "❌ Complaint filing cancelled.",
		Processing: "⏳ Processing your complaint... Please wait.",
		Steps:      steps,
		Summary:    filingSummary,
		Caption:    staticCaption("📄 Your complaint form\n\n🚨 For emergency: 100 | 112"),
	}
}

func informationRequestFlow() *Definition {
	steps := []Step{nameStep(models.StepInfoName, "What is your *full name*?")}
	steps = append(steps, phoneSteps(models.StepInfoPhone, models.StepInfoVerify, "✅ Phone verified successfully!")...)
	steps = append(steps,
		emailStep(models.StepInfoEmail),
		identityStep(models.StepInfoIdentity, "application"),
		addressStep(models.StepInfoAddress),
		Step{
			Name:   models.StepInfoDepartment,
			Kind:   KindText,
			Field:  models.FieldDepartment,
			Prompt: static("*Which government department/office* are you seeking information from?\n\nExample: Municipal Corporation, Revenue Department, Police Department, etc."),
		},
		Step{
			Name:   models.StepInfoSought,
			Kind:   KindText,
			Field:  models.FieldInformationSought,
			Prompt: static("*What information are you seeking?*\n\nBe specific and clear about what information you want."),
		},
		Step{
			Name:      models.StepInfoPurpose,
			Kind:      KindOptionalText,
			Field:     models.FieldPurpose,
			Prompt:    static("*Purpose of seeking information* (Optional)\n\nType 'skip' to skip this field."),
			SkipWords: optionalSkip,
		},
	)

	return &Definition{
		Kind:       models.FlowInformationRequest,
		Command:    "/rti",
		Intro:      "📄 *RTI Application Assistant*\n\nI'll help you file an RTI application under Right to Information Act, 2005.",
		Cancelled:  "❌ RTI application cancelled.",
		Processing: "⏳ Generating your RTI application...",
		Steps:      steps,
		Summary:    informationRequestSummary,
		Caption:    staticCaption("📄 Your RTI Application\n\n💡 Submit to concerned PIO"),
	}
}

func violationReportFlow() *Definition {
	steps := []Step{nameStep(models.StepViolationName, "What is your *full name*?")}
	steps = append(steps, phoneSteps(models.StepViolationPhone, models.StepViolationVerify, "✅ Phone verified!")...)
	steps = append(steps,
		Step{Name: models.StepViolationVehicle, Kind: KindText, Field: models.FieldVehicleNumber, Prompt: static("What is the *vehicle number/plate*?")},
		Step{
			Name:    models.StepViolationType,
			Kind:    KindChoice,
			Field:   models.FieldViolationType,
			Prompt:  choicePrompt("*What type of violation?*", ViolationTypes),
			Choices: ViolationTypes,
		},
		Step{
			Name:      models.StepViolationLocation,
			Kind:      KindLocation,
			Field:     models.FieldLocation,
			Prompt:    static("*Where did this occur?*\n\nShare your location 📍 or type the address.\nType 'skip location' to continue without one."),
			SkipWords: locationSkip,
		},
		Step{
			Name:      models.StepViolationPhoto,
			Kind:      KindAttachment,
			Prompt:    static("📸 *Upload a photo* of the violation (vehicle, number plate, etc.)\n\nOr type 'skip' if you don't have a photo."),
			SkipWords: photoSkip,
			Purpose:   attachment.PurposeEvidence,
			Rejected:  "⚠️ Please send the photo *as an image*, or type 'skip'.",
			Accepted:  "✅ Photo received.",
		},
		Step{
			Name:      models.StepViolationDescription,
			Kind:      KindOptionalText,
			Field:     models.FieldDescription,
			Prompt:    static("Any *additional details/description*?\n\nOr type 'no' to skip."),
			SkipWords: []string{"no", "skip"},
		},
	)

	return &Definition{
		Kind:       models.FlowViolationReport,
		Command:    "/traffic",
		Intro:      "🚗 *Traffic Violation Reporting*\n\nReport illegal parking, traffic violations, etc.",
		Cancelled:  "❌ Traffic violation report cancelled.",
		Processing: "⏳ Submitting your traffic violation report and generating PDF...",
		Steps:      steps,
		Summary:    violationReportSummary,
		Caption: func(rec models.Record) string {
			return fmt.Sprintf("🚗 Traffic Violation Report #%d\n\n💡 This report has been submitted to traffic police", rec.ID)
		},
	}
}

func staticCaption(text string) func(models.Record) string {
	return func(models.Record) string { return text }
}

func orNotProvided(v string) string {
	if v == "" {
		return "Not provided"
	}
	return v
}

func filingSummary(rec models.Record) string {
	legal := rec.LegalBasis
	if legal == "" {
		legal = "Could not be determined automatically. The police station will advise."
	}
	return fmt.Sprintf(`✅ *Complaint Form Generated!*

👤 *Complainant:* %s
📋 *Type:* %s
📍 *Location:* %s
🪪 *Aadhaar Verification:* Received and attached for police review

⚖️ *Applicable Laws:*
%s

📝 *Complaint ID:* #%d

💡 *Next Steps:*
1️⃣ Visit the nearest police station
2️⃣ Carry this complaint form (PDF below)
3️⃣ Bring evidence & witnesses
4️⃣ Note FIR number after filing`,
		rec.Field(models.FieldName), rec.Field(models.FieldCategory), rec.Field(models.FieldIncidentLocation), legal, rec.ID)
}

func informationRequestSummary(rec models.Record) string {
	return fmt.Sprintf(`✅ *RTI Application Generated!*

👤 *Applicant:* %s
🏛️ *Department:* %s
🪪 *Aadhaar Verification:* Received and stored for official review

📝 *RTI ID:* #%d

💡 *Next Steps:*
1️⃣ Submit this application to the concerned Public Information Officer (PIO)
2️⃣ Pay the prescribed RTI fees (₹10 for central, varies for state)
3️⃣ Get acknowledgment with application number
4️⃣ Response should be provided within 30 days

⚖️ *RTI Act 2005 - Section 6(1)*
Information shall be provided within 30 days`,
		rec.Field(models.FieldName), rec.Field(models.FieldDepartment), rec.ID)
}

func violationReportSummary(rec models.Record) string {
	return fmt.Sprintf(`✅ *Traffic Violation Reported!*

🆔 *Report ID:* #%d
🚗 *Vehicle:* %s
⚠️ *Violation:* %s
📍 *Location:* %s

✅ Your report has been saved and will be reviewed by traffic police.

💡 *What Happens Next:*
• Report is forwarded to traffic police
• Vehicle owner may receive challan/fine
• You may be contacted for additional details

📞 *Traffic Police Helpline:* 100`,
		rec.ID, rec.Field(models.FieldVehicleNumber), rec.Field(models.FieldViolationType), orNotProvided(rec.Field(models.FieldLocation)))
}
