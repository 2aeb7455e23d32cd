// Package schema provides the GORM models backing the dex catalog: users,
// image conversions, analysis jobs, the imported taxonomic reference corpus,
// canonical animals, observations, and friendships.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// User holds the identity token the rest of the catalog hangs off. Accounts
// are provisioned externally; the core never deletes one directly.
type User struct {
	UserID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	FriendCode string    `gorm:"type:varchar(8);uniqueIndex;not null"`
	CreatedAt  time.Time
}

func (User) TableName() string { return "users" }

// ImageConversion is a normalized image awaiting a job binding (C2).
type ImageConversion struct {
	ConvID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID                 uuid.UUID `gorm:"type:uuid;index;not null"`
	OriginalRef            string    `gorm:"not null"`
	NormalizedRef          string    `gorm:"not null"`
	OriginalFormat         string    `gorm:"type:varchar(16);not null"`
	OriginalWidth          int
	OriginalHeight         int
	ConvertedWidth         int
	ConvertedHeight        int
	TransformationsApplied string `gorm:"type:jsonb;serializer:json"`
	Checksum               string `gorm:"type:varchar(64);not null"`
	CreatedAt              time.Time
	ExpiresAt              time.Time `gorm:"index"`
	Bound                  bool      `gorm:"not null;default:false;index"`
}

func (ImageConversion) TableName() string { return "image_conversions" }

// JobStatus is the Analysis Job lifecycle enum (§4.7).
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// DetectedAnimal is one entry of Analysis Job.detected_animals (§3).
type DetectedAnimal struct {
	ScientificName string     `json:"scientific_name"`
	CommonName     string     `json:"common_name,omitempty"`
	Confidence     float64    `json:"confidence"`
	AnimalID       *uuid.UUID `json:"animal_id,omitempty"`
	IsNew          bool       `json:"is_new"`
}

// DetectedAnimals is the ordered, JSON-serialized list GORM persists as a
// single jsonb column.
type DetectedAnimals []DetectedAnimal

// AnalysisJob runs the identification pipeline over one conversion (C7).
type AnalysisJob struct {
	JobID                        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID                       uuid.UUID `gorm:"type:uuid;index;not null"`
	ConversionID                 *uuid.UUID
	RawImageRef                  string
	Status                       JobStatus `gorm:"type:varchar(16);not null;index"`
	CVMethod                     string    `gorm:"type:varchar(32);not null"`
	ModelName                    string    `gorm:"type:varchar(64);not null"`
	DetailLevel                  string    `gorm:"type:varchar(16);not null"`
	PostConversionTransformations string   `gorm:"type:jsonb;serializer:json"`
	RawResponse                  string    `gorm:"type:text"`
	ParsedPrediction             string    `gorm:"type:text"`
	DetectedAnimals              DetectedAnimals `gorm:"type:jsonb;serializer:json"`
	SelectedIndex                *int
	IdentifiedAnimalID           *uuid.UUID
	CostUSD                      float64
	ProcessingTimeMS             int64
	InputTokens                  int
	OutputTokens                 int
	RetryCount                   int
	ErrorMessage                 string `gorm:"type:text"`
	CreatedAt                    time.Time
	UpdatedAt                    time.Time
}

func (AnalysisJob) TableName() string { return "analysis_jobs" }

// TaxonRank enumerates the hierarchy levels a Reference Taxon may occupy.
type TaxonRank string

const (
	RankKingdom    TaxonRank = "kingdom"
	RankPhylum     TaxonRank = "phylum"
	RankClass      TaxonRank = "class"
	RankOrder      TaxonRank = "order"
	RankFamily     TaxonRank = "family"
	RankSubfamily  TaxonRank = "subfamily"
	RankTribe      TaxonRank = "tribe"
	RankGenus      TaxonRank = "genus"
	RankSubgenus   TaxonRank = "subgenus"
	RankSpecies    TaxonRank = "species"
	RankSubspecies TaxonRank = "subspecies"
	RankVariety    TaxonRank = "variety"
	RankForm       TaxonRank = "form"
)

// TaxonStatus is the reconciliation status a Reference Taxon may carry.
type TaxonStatus string

const (
	StatusAccepted    TaxonStatus = "accepted"
	StatusProvisional TaxonStatus = "provisional"
	StatusSynonym     TaxonStatus = "synonym"
	StatusAmbiguous   TaxonStatus = "ambiguous"
	StatusMisapplied  TaxonStatus = "misapplied"
	StatusDoubtful    TaxonStatus = "doubtful"
)

// NomenclaturalCode identifies the governing naming code.
type NomenclaturalCode string

const (
	CodeICZN NomenclaturalCode = "iczn"
	CodeICN  NomenclaturalCode = "icn"
	CodeICNP NomenclaturalCode = "icnp"
	CodeICTV NomenclaturalCode = "ictv"
)

// ReferenceTaxon is a row of the imported authoritative taxonomy corpus
// (C5/C6 output). Denormalized hierarchy fields speed up the reconciler's
// exact/fuzzy matching stages without a join per candidate.
type ReferenceTaxon struct {
	TaxonID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Source               string    `gorm:"type:varchar(32);not null;index:idx_ref_taxon_source_id,unique,priority:1"`
	SourcePriority        int      `gorm:"not null"`
	SourceTaxonID         string    `gorm:"not null;index:idx_ref_taxon_source_id,unique,priority:2"`
	ScientificName        string    `gorm:"type:text;not null;index"`
	Authorship            string    `gorm:"type:text"`
	Rank                  TaxonRank `gorm:"type:varchar(16);not null"`
	Kingdom               string    `gorm:"type:text;index"`
	Phylum                string    `gorm:"type:text"`
	Class                 string    `gorm:"type:text"`
	Order                 string    `gorm:"type:text"`
	Family                string    `gorm:"type:text;index"`
	Genus                 string    `gorm:"type:text;index"`
	Species                string   `gorm:"type:text"`
	GenericName            string   `gorm:"type:text;index"`
	SpecificEpithet        string   `gorm:"type:text;index"`
	InfraspecificEpithet   string   `gorm:"type:text"`
	Status                 TaxonStatus `gorm:"type:varchar(16);not null;index"`
	Extinct                 bool
	Environment             string `gorm:"type:jsonb;serializer:json"`
	NomenclaturalCode       NomenclaturalCode `gorm:"type:varchar(8)"`
	ParentID                *uuid.UUID
	AcceptedNameID          *uuid.UUID
	SourceURL               string `gorm:"type:text"`
	CompletenessScore       float64
	ConfidenceScore         float64
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (ReferenceTaxon) TableName() string { return "reference_taxa" }

// NameRelationType enumerates the fallback synonym-resolution edges (§4.5).
type NameRelationType string

const (
	RelationSpellingCorrection NameRelationType = "spelling correction"
	RelationBasionym           NameRelationType = "basionym"
	RelationHomotypicSynonym   NameRelationType = "homotypic synonym"
)

// NameRelation is a fallback edge used when a synonym's accepted_name is
// null (§4.5 synonym resolution).
type NameRelation struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	NameTaxonID        uuid.UUID `gorm:"type:uuid;not null;index"`
	RelatedNameTaxonID uuid.UUID `gorm:"type:uuid;not null"`
	Type               NameRelationType `gorm:"type:varchar(32);not null"`
}

func (NameRelation) TableName() string { return "name_relations" }

// CommonName is a vernacular name attached to a Reference Taxon.
type CommonName struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TaxonID     uuid.UUID `gorm:"type:uuid;not null;index:idx_common_name_unique,unique,priority:1"`
	Name        string    `gorm:"type:text;not null;index:idx_common_name_unique,unique,priority:2"`
	Language    string    `gorm:"type:varchar(16);index:idx_common_name_unique,unique,priority:3"`
	Country     string    `gorm:"type:varchar(8);index:idx_common_name_unique,unique,priority:4"`
	IsPreferred bool
}

func (CommonName) TableName() string { return "common_names" }

// CanonicalAnimal is the catalog's species-level record (§3, §4.8).
type CanonicalAnimal struct {
	AnimalID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ScientificName     string    `gorm:"type:text;not null;uniqueIndex"`
	Kingdom            string    `gorm:"type:text"`
	Phylum             string    `gorm:"type:text"`
	Class              string    `gorm:"type:text"`
	Order              string    `gorm:"type:text"`
	Family             string    `gorm:"type:text"`
	Genus              string    `gorm:"type:text"`
	Species            string    `gorm:"type:text"`
	CreationIndex      int       `gorm:"not null;uniqueIndex"`
	CreatedByUserID    *uuid.UUID
	Verified           bool
	VerificationMethod string `gorm:"type:varchar(32)"`
	TaxonomyID         *uuid.UUID
	TaxonomyConfidence float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (CanonicalAnimal) TableName() string { return "canonical_animals" }

// Visibility controls who may read an Observation (§6).
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityFriends Visibility = "friends"
	VisibilityPublic  Visibility = "public"
)

// Observation is a single sighting in a user's personal catalog (§3, C8).
type Observation struct {
	ObservationID   uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OwnerUserID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_observation_unique,unique,priority:1"`
	AnimalID        uuid.UUID  `gorm:"type:uuid;not null;index:idx_observation_unique,unique,priority:2"`
	OriginalImageRef string    `gorm:"type:text"`
	ProcessedImageRef string   `gorm:"type:text"`
	Lat             *float64
	Lon             *float64
	LocationName    string `gorm:"type:text"`
	Notes           string `gorm:"type:text"`
	Checksum        string `gorm:"type:varchar(64)"`
	Customizations  string `gorm:"type:jsonb;serializer:json"`
	CatchDate       time.Time  `gorm:"not null;index:idx_observation_unique,unique,priority:3"`
	Visibility      Visibility `gorm:"type:varchar(16);not null;default:private"`
	IsFavorite      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Observation) TableName() string { return "observations" }

// FriendshipStatus is the lifecycle of a Friendship edge (§3).
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship is a directed request that becomes mutually visible once
// accepted (§3); no reciprocal row is created.
type Friendship struct {
	ID       uuid.UUID        `gorm:"type:uuid;primaryKey"`
	FromUser uuid.UUID        `gorm:"type:uuid;not null;index:idx_friendship_unique,unique,priority:1"`
	ToUser   uuid.UUID        `gorm:"type:uuid;not null;index:idx_friendship_unique,unique,priority:2"`
	Status   FriendshipStatus `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Friendship) TableName() string { return "friendships" }

// ImportStatus is the Reference Importer's per-source job lifecycle (§4.6).
type ImportStatus string

const (
	ImportPending     ImportStatus = "pending"
	ImportDownloading ImportStatus = "downloading"
	ImportProcessing  ImportStatus = "processing"
	ImportValidating  ImportStatus = "validating"
	ImportImporting   ImportStatus = "importing"
	ImportCompleted   ImportStatus = "completed"
	ImportFailed      ImportStatus = "failed"
	ImportCancelled   ImportStatus = "cancelled"
)

// ImportJob tracks one source's ingest run end to end (§3, C6).
type ImportJob struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey"`
	Source         string       `gorm:"type:varchar(32);not null;index"`
	Version        string       `gorm:"type:varchar(64)"`
	Status         ImportStatus `gorm:"type:varchar(16);not null;index"`
	RecordsTotal   int
	RecordsImported int
	RecordsFailed  int
	ErrorLog       string `gorm:"type:text"`
	Metadata       string `gorm:"type:jsonb;serializer:json"`
	FilePath       string `gorm:"type:text"`
	FileSize       int64
	RetryCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ImportJob) TableName() string { return "import_jobs" }

// RawReferenceRow is one unparsed line of the source archive's
// NameUsage.tsv, staged before normalization (§4.6 stage 4).
type RawReferenceRow struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	ImportJobID        uuid.UUID `gorm:"type:uuid;not null;index"`
	Source             string    `gorm:"type:varchar(32);not null;index"`
	SourceTaxonID      string    `gorm:"type:text;not null"`
	Columns            string    `gorm:"type:jsonb;serializer:json"`
	IsProcessed        bool      `gorm:"not null;default:false;index"`
	ProcessingErrors   string    `gorm:"type:text"`
	CreatedAt          time.Time
}

func (RawReferenceRow) TableName() string { return "raw_reference_rows" }

// SchemaVersion tracks applied database migrations.
type SchemaVersion struct {
	Version     string `gorm:"type:text;primaryKey"`
	Description string `gorm:"type:text"`
	AppliedAt   time.Time
}

func (SchemaVersion) TableName() string { return "schema_versions" }
