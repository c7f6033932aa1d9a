package dto

// StudentRequest carries roster attributes for create and update.
type StudentRequest struct {
	Salutation          string `json:"salutation"`
	CandidateName       string `json:"candidate_name" binding:"required"`
	GuardianType        string `json:"guardian_type"`
	NameOfFatherHusband string `json:"name_of_father_husband"`
	Aadhaar             string `json:"aadhaar"`
	JobRole             string `json:"job_role"`
	TrainingCenter      string `json:"training_center"`
	District            string `json:"district"`
	State               string `json:"state"`
	AssessmentPartner   string `json:"assessment_partner"`
	EnrollmentNumber    string `json:"enrollment_number"`
	DateOfIssuance      string `json:"date_of_issuance"`
	CertificateNumber   string `json:"certificate_number"`
}

// BulkUploadResponse summarises a CSV roster import.
type BulkUploadResponse struct {
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}
