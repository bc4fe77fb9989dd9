package api

// createRoomRequest is the body of POST /rooms.
type createRoomRequest struct {
	RoomID      string `json:"room_id" binding:"required"`
	WorkspaceID string `json:"workspace_id" binding:"required"`
	Name        string `json:"name"`
}

type createThreadRequest struct {
	ThreadID string `json:"thread_id" binding:"required"`
	Title    string `json:"title"`
}

type postMessageRequest struct {
	MessageID string `json:"message_id" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

type createRunRequest struct {
	RunID         string                 `json:"run_id" binding:"required"`
	RoomID        string                 `json:"room_id"`
	CorrelationID string                 `json:"correlation_id" binding:"required"`
	ExperimentID  string                 `json:"experiment_id"`
	Input         map[string]interface{} `json:"input"`
}

type claimRunRequest struct {
	RoomID string `json:"room_id"`
}

type completeRunRequest struct {
	Output map[string]interface{} `json:"output"`
}

type failRunRequest struct {
	Error map[string]interface{} `json:"error" binding:"required"`
}

type createStepRequest struct {
	StepID string `json:"step_id" binding:"required"`
	Name   string `json:"name" binding:"required"`
}

type heartbeatRequest struct {
	ClaimToken string `json:"claim_token" binding:"required"`
}

type releaseRequest struct {
	ClaimToken string `json:"claim_token" binding:"required"`
}

type createToolCallRequest struct {
	ToolCallID string                 `json:"tool_call_id" binding:"required"`
	ToolName   string                 `json:"tool_name" binding:"required"`
	Input      map[string]interface{} `json:"input"`
}

type succeedToolCallRequest struct {
	Output map[string]interface{} `json:"output"`
}

type failToolCallRequest struct {
	Error map[string]interface{} `json:"error" binding:"required"`
}

type createArtifactRequest struct {
	ArtifactID string                 `json:"artifact_id" binding:"required"`
	Kind       string                 `json:"kind" binding:"required"`
	URI        string                 `json:"uri" binding:"required"`
	Metadata   map[string]interface{} `json:"metadata"`
}

type requestApprovalRequest struct {
	ApprovalID     string                 `json:"approval_id" binding:"required"`
	Action         string                 `json:"action" binding:"required"`
	Scope          approvalScopeRequest   `json:"scope" binding:"required"`
	TTLSeconds     int                    `json:"ttl_seconds" binding:"required"`
	RequestPayload map[string]interface{} `json:"request_payload"`
}

type approvalScopeRequest struct {
	ScopeType string `json:"scope_type" binding:"required"`
	RoomID    string `json:"room_id"`
}

type decideApprovalRequest struct {
	Decision string `json:"decision" binding:"required"`
	Reason   string `json:"reason"`
}

type evaluatePolicyRequest struct {
	Action            string `json:"action" binding:"required"`
	WorkspaceID       string `json:"workspace_id" binding:"required"`
	ActorPrincipalID  string `json:"actor_principal_id"`
	ToolName          string `json:"tool_name"`
	ResourceLabel     string `json:"resource_label"`
	DataAccessMode    string `json:"data_access_mode"`
	PurposeTag        string `json:"purpose_tag"`
	Zone              string `json:"zone"`
	CapabilityTokenID string `json:"capability_token_id"`
	Scope             struct {
		RoomID       string `json:"room_id"`
		EgressDomain string `json:"egress_domain"`
	} `json:"scope"`
}

type grantCapabilityRequest struct {
	WorkspaceID          string              `json:"workspace_id" binding:"required"`
	IssuedToPrincipalID  string              `json:"issued_to_principal_id" binding:"required"`
	GrantedByPrincipalID string              `json:"granted_by_principal_id" binding:"required"`
	ParentTokenID        string              `json:"parent_token_id"`
	Scopes               capabilityScopesDTO `json:"scopes" binding:"required"`
	ValidSeconds         int                 `json:"valid_seconds" binding:"required"`
}

type capabilityScopesDTO struct {
	Rooms         []string `json:"rooms"`
	Tools         []string `json:"tools"`
	EgressDomains []string `json:"egress_domains"`
	ActionTypes   []string `json:"action_types"`
	DataAccess    struct {
		Read  []string `json:"read"`
		Write []string `json:"write"`
	} `json:"data_access"`
}

type revokeCapabilityRequest struct {
	TokenID       string `json:"token_id" binding:"required"`
	CorrelationID string `json:"correlation_id"`
}

type requestEgressRequest struct {
	WorkspaceID       string `json:"workspace_id" binding:"required"`
	ActorPrincipalID  string `json:"actor_principal_id"`
	Zone              string `json:"zone"`
	Method            string `json:"method" binding:"required"`
	URLOrDomain       string `json:"url" binding:"required"`
	RoomID            string `json:"room_id"`
	Justification     string `json:"justification"`
	CapabilityTokenID string `json:"capability_token_id"`
}

type openIncidentRequest struct {
	IncidentID     string `json:"incident_id" binding:"required"`
	WorkspaceID    string `json:"workspace_id" binding:"required"`
	RunID          string `json:"run_id"`
	CorrelationID  string `json:"correlation_id"`
	Summary        string `json:"summary"`
	IdempotencyKey string `json:"idempotency_key"`
}

type attachRCARequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	RCA         string `json:"rca" binding:"required"`
}

type addLearningRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	Note        string `json:"note" binding:"required"`
}

type closeIncidentRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
}

type ensureLegacyPrincipalRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	ActorType   string `json:"actor_type" binding:"required"`
	ActorID     string `json:"actor_id" binding:"required"`
}

type registerAgentRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	PrincipalID string `json:"principal_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

type approveAutonomyRequest struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
}

type quarantineAgentRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
}

type unquarantineAgentRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
}

type recalculateTrustRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
}

type importSkillsRequest struct {
	PackageID string   `json:"package_id"`
	SkillIDs  []string `json:"skill_ids" binding:"required"`
}

type assessImportedRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	SkillID     string `json:"skill_id" binding:"required"`
	Outcome     string `json:"outcome" binding:"required"`
}

type certifyImportedRequest struct {
	SkillID string `json:"skill_id" binding:"required"`
}

type importCertifyRequest struct {
	WorkspaceID string   `json:"workspace_id" binding:"required"`
	PackageID   string   `json:"package_id"`
	SkillIDs    []string `json:"skill_ids" binding:"required"`
}

type installSkillPackageRequest struct {
	WorkspaceID string            `json:"workspace_id" binding:"required"`
	AgentID     string            `json:"agent_id" binding:"required"`
	Manifest    skillManifestDTO  `json:"manifest" binding:"required"`
}

type skillManifestDTO struct {
	Name      string `json:"name" binding:"required"`
	Version   string `json:"version" binding:"required"`
	Signature string `json:"signature"`
	Hash      string `json:"hash" binding:"required"`
}

type verifySkillPackageRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	RawContentB64 string `json:"raw_content_base64" binding:"required"`
}

type quarantineSkillPackageRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
}
