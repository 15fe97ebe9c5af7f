package queue

const (
	TypeAssetProcess           = "asset:process"
	TypeAssetExtractMetadata   = "asset:extract_metadata"
	TypeAssetGenerateEmbedding = "asset:generate_embedding"
	TypeAssetScore             = "asset:score"
	TypeAssetTag               = "asset:tag"
	TypeRecoveryScan           = "compliance:recovery_scan"
)

type AssetStagePayload struct {
	AssetID  string `json:"asset_id"`
	TenantID string `json:"tenant_id"`
}

type AssetTagPayload struct {
	AssetID  string `json:"asset_id"`
	TenantID string `json:"tenant_id"`
}

type RecoveryScanPayload struct{}
