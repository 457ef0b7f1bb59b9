// Package metrics provides constants used across metric definitions.
package metrics

// Operation type constants used as label values.
const (
	OpDetect       = "detect"
	OpFaceSearch   = "face_search"
	OpInference    = "inference"
	OpModelLoad    = "model_load"
	OpDbInsert     = "db_insert"
	OpDbQuery      = "db_query"
	OpDbDelete     = "db_delete"
	OpDbStatistics = "db_statistics"
	OpDbCount      = "db_count"
	OpDbPing       = "db_ping"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusNoFace  = "no_face"
)

// Histogram bucket parameters.
const (
	BucketStart1ms   = 0.001
	BucketStart100us = 0.0001
	BucketFactor2    = 2
	BucketCount10    = 10
	BucketCount12    = 12
	BucketCount15    = 15
)
