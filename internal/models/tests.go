package models

import "strings"

// TestCode identifies a supported diagnostic test
type TestCode string

const (
	TestHBA1C TestCode = "HBA1C"
	TestLipid TestCode = "LIPID"
	TestECG   TestCode = "ECG"
	TestLFT   TestCode = "LFT"
	TestRFT   TestCode = "RFT"
	TestCBC   TestCode = "CBC"
	TestUrine TestCode = "URINE"
	TestEcho  TestCode = "ECHO"
	TestTMT   TestCode = "TMT"
)

// SupportedTests lists every test code with its own yield model, in training order.
var SupportedTests = []TestCode{
	TestHBA1C, TestLipid, TestECG, TestLFT, TestRFT, TestCBC, TestUrine, TestEcho, TestTMT,
}

// Condition categories referenced by TestConditions
const (
	CategoryCardiac      = "cardiac"
	CategoryDiabetes     = "diabetes"
	CategoryHypertension = "hypertension"
	CategoryRenal        = "renal"
	CategoryHepatic      = "hepatic"
	CategoryMetabolic    = "metabolic"
	CategoryObesity      = "obesity"
	CategoryAlcohol      = "alcohol"
	CategoryMedication   = "medication"
)

// TestConditions maps each test to the condition categories that make it relevant.
// It is shared by feature extraction at training and serving time.
var TestConditions = map[TestCode][]string{
	TestHBA1C: {CategoryDiabetes, CategoryMetabolic},
	TestLipid: {CategoryCardiac, CategoryMetabolic, CategoryObesity},
	TestECG:   {CategoryCardiac, CategoryHypertension},
	TestLFT:   {CategoryHepatic, CategoryAlcohol, CategoryMedication},
	TestRFT:   {CategoryRenal, CategoryDiabetes, CategoryHypertension},
	TestCBC:   {},
	TestUrine: {CategoryRenal, CategoryDiabetes},
	TestEcho:  {CategoryCardiac},
	TestTMT:   {CategoryCardiac},
}

// ParseTestCode normalizes a test code and reports whether it is supported.
func ParseTestCode(raw string) (TestCode, bool) {
	code := TestCode(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := TestConditions[code]
	return code, ok
}

// Key returns the lower-case form used in artifact names.
func (c TestCode) Key() string {
	return strings.ToLower(string(c))
}
