// Package api provides the HTTP surface for the agent control plane.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcus-qen/legatorcp/pkg/approval"
	"github.com/marcus-qen/legatorcp/pkg/audit"
	"github.com/marcus-qen/legatorcp/pkg/capability"
	"github.com/marcus-qen/legatorcp/pkg/config"
	"github.com/marcus-qen/legatorcp/pkg/egress"
	"github.com/marcus-qen/legatorcp/pkg/eventlog"
	"github.com/marcus-qen/legatorcp/pkg/growth"
	"github.com/marcus-qen/legatorcp/pkg/policy"
	"github.com/marcus-qen/legatorcp/pkg/principal"
	"github.com/marcus-qen/legatorcp/pkg/runlifecycle"
	"github.com/marcus-qen/legatorcp/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        config.Config
	pool       *pgxpool.Pool

	writer     *eventlog.Writer
	principals *principal.Resolver
	caps       *capability.Service
	approvals  *approval.Service
	runs       *runlifecycle.Manager
	gate       *policy.Gate
	egressB    *egress.Broker
	growthRec  *growth.Recorder
	auditor    *audit.Verifier
}

// Deps bundles every service the API layer dispatches to. All fields are
// required; NewServer does not attempt partial wiring.
type Deps struct {
	Pool       *pgxpool.Pool
	Writer     *eventlog.Writer
	Principals *principal.Resolver
	Caps       *capability.Service
	Approvals  *approval.Service
	Runs       *runlifecycle.Manager
	Gate       *policy.Gate
	Egress     *egress.Broker
	Growth     *growth.Recorder
	Auditor    *audit.Verifier
}

// NewServer creates a new API server with gin.
func NewServer(cfg config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(securityHeaders())
	e.MaxMultipartMemory = 2 << 20 // 2 MiB, matches the teacher's body-size posture

	s := &Server{
		engine:     e,
		cfg:        cfg,
		pool:       deps.Pool,
		writer:     deps.Writer,
		principals: deps.Principals,
		caps:       deps.Caps,
		approvals:  deps.Approvals,
		runs:       deps.Runs,
		gate:       deps.Gate,
		egressB:    deps.Egress,
		growthRec:  deps.Growth,
		auditor:    deps.Auditor,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	if s.cfg.AuthRequireSession {
		v1.Use(requireSession(s.cfg.AuthAllowLegacyWorkspaceHeader))
	}

	v1.GET("/events", s.listEventsHandler)
	v1.GET("/events/:eventId", s.getEventHandler)
	v1.GET("/streams/rooms/:roomId", s.streamRoomHandler)

	v1.POST("/rooms", s.createRoomHandler)
	v1.GET("/rooms", s.listRoomsHandler)
	v1.POST("/rooms/:roomId/threads", s.createThreadHandler)
	v1.GET("/rooms/:roomId/threads", s.listThreadsHandler)
	v1.POST("/threads/:threadId/messages", s.postMessageHandler)
	v1.GET("/threads/:threadId/messages", s.listMessagesHandler)

	v1.POST("/runs", s.createRunHandler)
	v1.POST("/runs/claim", s.claimRunHandler)
	v1.POST("/runs/:runId/start", s.startRunHandler)
	v1.POST("/runs/:runId/complete", s.completeRunHandler)
	v1.POST("/runs/:runId/fail", s.failRunHandler)
	v1.POST("/runs/:runId/steps", s.createStepHandler)
	v1.POST("/runs/:runId/lease/heartbeat", s.heartbeatRunHandler)
	v1.POST("/runs/:runId/lease/release", s.releaseRunHandler)
	v1.GET("/runs", s.listRunsHandler)
	v1.GET("/runs/:runId", s.getRunHandler)
	v1.GET("/runs/:runId/evidence", s.getEvidenceHandler)
	v1.POST("/runs/:runId/evidence/finalize", s.finalizeEvidenceHandler)

	v1.POST("/steps/:stepId/toolcalls", s.createToolCallHandler)
	v1.POST("/toolcalls/:toolCallId/succeed", s.succeedToolCallHandler)
	v1.POST("/toolcalls/:toolCallId/fail", s.failToolCallHandler)
	v1.GET("/toolcalls", s.listToolCallsHandler)
	v1.GET("/toolcalls/:toolCallId", s.getToolCallHandler)

	v1.POST("/steps/:stepId/artifacts", s.createArtifactHandler)
	v1.GET("/artifacts", s.listArtifactsHandler)
	v1.GET("/artifacts/:artifactId", s.getArtifactHandler)

	v1.POST("/approvals", s.requestApprovalHandler)
	v1.POST("/approvals/:approvalId/decide", s.decideApprovalHandler)
	v1.GET("/approvals", s.listApprovalsHandler)
	v1.GET("/approvals/:approvalId", s.getApprovalHandler)

	v1.POST("/policy/evaluate", s.evaluatePolicyHandler)

	v1.POST("/capabilities/grant", s.grantCapabilityHandler)
	v1.POST("/capabilities/revoke", s.revokeCapabilityHandler)
	v1.GET("/capabilities/delegations", s.listDelegationsHandler)
	v1.GET("/capabilities/:tokenId", s.getCapabilityHandler)

	v1.POST("/egress/requests", s.requestEgressHandler)
	v1.GET("/egress/requests", s.listEgressRequestsHandler)

	v1.POST("/incidents", s.openIncidentHandler)
	v1.POST("/incidents/:incidentId/rca", s.attachRCAHandler)
	v1.POST("/incidents/:incidentId/learning", s.addLearningHandler)
	v1.POST("/incidents/:incidentId/close", s.closeIncidentHandler)
	v1.GET("/incidents", s.listIncidentsHandler)
	v1.GET("/incidents/:incidentId", s.getIncidentHandler)

	v1.GET("/audit/hash-chain/verify", s.verifyHashChainHandler)
	v1.GET("/audit/redactions", s.listRedactionsHandler)

	v1.GET("/pipeline/projection", s.pipelineProjectionHandler)

	v1.GET("/action-registry", s.listActionRegistryHandler)

	v1.POST("/principals/legacy/ensure", s.ensureLegacyPrincipalHandler)

	v1.POST("/agents", s.registerAgentHandler)
	v1.GET("/agents", s.listAgentsHandler)
	v1.GET("/agents/:agentId", s.getAgentHandler)
	v1.POST("/agents/:agentId/quarantine", s.quarantineAgentHandler)
	v1.POST("/agents/:agentId/unquarantine", s.unquarantineAgentHandler)
	v1.POST("/agents/:agentId/skills/import", s.importSkillsHandler)
	v1.POST("/agents/:agentId/skills/review-pending", s.reviewPendingSkillsHandler)
	v1.POST("/agents/:agentId/skills/assess-imported", s.assessImportedSkillHandler)
	v1.POST("/agents/:agentId/skills/certify-imported", s.certifyImportedSkillHandler)
	v1.POST("/agents/:agentId/skills/import-certify", s.importCertifySkillsHandler)
	v1.GET("/agents/:agentId/skills/onboarding-status", s.onboardingStatusHandler)
	v1.GET("/agents/skills/onboarding-statuses", s.onboardingStatusesHandler)
	v1.GET("/agents/:agentId/trust", s.getTrustHandler)
	v1.POST("/agents/:agentId/trust/recalculate", s.recalculateTrustHandler)
	v1.GET("/agents/:agentId/approval-recommendation", s.approvalRecommendationHandler)
	v1.POST("/agents/:agentId/autonomy/recommend", s.recommendAutonomyHandler)
	v1.POST("/agents/:agentId/autonomy/approve", s.approveAutonomyHandler)

	v1.GET("/skills/packages", s.listSkillPackagesHandler)
	v1.POST("/skills/packages/install", s.installSkillPackageHandler)
	v1.POST("/skills/packages/:packageId/verify", s.verifySkillPackageHandler)
	v1.POST("/skills/packages/:packageId/quarantine", s.quarantineSkillPackageHandler)
}

func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	if err := s.pool.Ping(reqCtx); err != nil {
		status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": status, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "version": version.Full()})
}

// Start starts the HTTP server on the given address (non-blocking to the
// caller the way the teacher's Start does — ListenAndServe blocks this
// goroutine, callers run it in its own).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
