package models

import "time"

// Student is one roster row: the candidate receiving a certificate plus
// every attribute the certificate layout can draw. Optional attributes are
// empty strings; the renderer skips fields whose source value is empty.
type Student struct {
	ID                  string     `db:"id" json:"id"`
	Salutation          string     `db:"salutation" json:"salutation"`
	CandidateName       string     `db:"candidate_name" json:"candidate_name"`
	GuardianType        string     `db:"guardian_type" json:"guardian_type"`
	NameOfFatherHusband string     `db:"name_of_father_husband" json:"name_of_father_husband"`
	Aadhaar             string     `db:"aadhaar" json:"aadhaar"`
	JobRole             string     `db:"job_role" json:"job_role"`
	TrainingCenter      string     `db:"training_center" json:"training_center"`
	District            string     `db:"district" json:"district"`
	State               string     `db:"state" json:"state"`
	AssessmentPartner   string     `db:"assessment_partner" json:"assessment_partner"`
	EnrollmentNumber    string     `db:"enrollment_number" json:"enrollment_number"`
	DateOfIssuance      *time.Time `db:"date_of_issuance" json:"date_of_issuance,omitempty"`
	CertificateNumber   *string    `db:"certificate_number" json:"certificate_number,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	District  string
	State     string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
