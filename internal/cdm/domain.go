package cdm

import "strings"

// Well-known OMOP domain_id values.
const (
	DomainCondition   = "Condition"
	DomainDrug        = "Drug"
	DomainProcedure   = "Procedure"
	DomainMeasurement = "Measurement"
	DomainObservation = "Observation"
	DomainVisit       = "Visit"
	DomainDevice      = "Device"
	DomainSpecimen    = "Specimen"
	DomainGender      = "Gender"
	DomainRace        = "Race"
	DomainEthnicity   = "Ethnicity"
)

// PersonTable is where the person-centric pseudo-domains route.
const PersonTable = "person"

var domainTables = map[string]string{
	DomainCondition:   "condition_occurrence",
	DomainDrug:        "drug_exposure",
	DomainProcedure:   "procedure_occurrence",
	DomainMeasurement: "measurement",
	DomainObservation: "observation",
	DomainVisit:       "visit_occurrence",
	DomainDevice:      "device_exposure",
	DomainSpecimen:    "specimen",
	DomainGender:      PersonTable,
	DomainRace:        PersonTable,
	DomainEthnicity:   PersonTable,
}

// DomainIDToTable maps an OMOP domain_id to its fact table. Unrecognized
// domains get lowercase(domain_id) + "_occurrence"; it never fails.
func DomainIDToTable(domainID string) string {
	if t, ok := domainTables[domainID]; ok {
		return t
	}
	return strings.ToLower(domainID) + "_occurrence"
}

// ConceptColumnFor derives the concept column of a fact table from the table
// prefix: condition_occurrence -> condition_concept_id.
//
// The person table always maps to gender_concept_id, including when it was
// reached through the Race or Ethnicity domains.
func ConceptColumnFor(table string) string {
	table = strings.ToLower(table)
	if table == PersonTable {
		return "gender_concept_id"
	}
	prefix, _, _ := strings.Cut(table, "_")
	return prefix + "_concept_id"
}

// KnownDomains lists the domain_id values with an explicit table mapping.
func KnownDomains() []string {
	return []string{
		DomainCondition, DomainDrug, DomainProcedure, DomainMeasurement,
		DomainObservation, DomainVisit, DomainDevice, DomainSpecimen,
		DomainGender, DomainRace, DomainEthnicity,
	}
}
