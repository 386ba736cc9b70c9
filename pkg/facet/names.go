// Package facet defines the flat metadata records returned by climate data
// search services and the calendar, version, and identity helpers that the
// catalog builds on.
package facet

// Facet names used throughout the catalog.
const (
	SourceID     = "source_id"
	ExperimentID = "experiment_id"
	MemberID     = "member_id"
	Variable     = "variable"
	TableID      = "table_id"
	GridLabel    = "grid_label"
	Version      = "version"
	StartDate    = "start_date"
	EndDate      = "end_date"
	DataNode     = "data_node"
	URL          = "url"
	Checksum     = "checksum"
	ChecksumType = "checksum_type"

	// Optional facets used for the download layout and display.
	Project       = "project"
	ActivityID    = "activity_id"
	InstitutionID = "institution_id"
	Title         = "title"
	Size          = "size"
)

// Required lists the facets every raw record must carry.
var Required = []string{
	SourceID, ExperimentID, MemberID, Variable, TableID, GridLabel, Version,
	StartDate, EndDate, DataNode, URL, Checksum, ChecksumType,
}

// DatasetKeys are the facets shared by every File of a Dataset.
var DatasetKeys = []string{SourceID, ExperimentID, MemberID, Variable}

// FileKeys are the facets shared by every Entry of a File.
var FileKeys = []string{SourceID, ExperimentID, MemberID, Variable, StartDate, EndDate}

// EntryKeys are the facets identifying a single Entry.
var EntryKeys = []string{
	SourceID, ExperimentID, MemberID, Variable, TableID, GridLabel, Version,
	StartDate, EndDate, DataNode,
}

// IsDatasetLevel reports whether name is one of DatasetKeys.
func IsDatasetLevel(name string) bool { return contains(DatasetKeys, name) }

// IsFileLevel reports whether name identifies a File but not its Dataset.
func IsFileLevel(name string) bool { return name == StartDate || name == EndDate }

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}
