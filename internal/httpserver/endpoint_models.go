package httpserver

import (
	"net/http"

	"github.com/WhyNeet/t3-chat-clone/internal/httpserver/protocol"
	"github.com/WhyNeet/t3-chat-clone/internal/models"
)

type modelsEndpoint struct {
	server *Server
}

func newModelsEndpoint(server *Server) protocol.Endpoint {
	return &modelsEndpoint{server: server}
}

func (e *modelsEndpoint) Name() string { return "models" }

func (e *modelsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/models", Handler: http.HandlerFunc(e.server.handleModels)},
		{Method: http.MethodGet, Path: "/v1/models", Handler: http.HandlerFunc(e.server.handleOpenAIModels)},
	}
}

type modelsResponse struct {
	Free []models.Model `json:"free"`
	Paid []models.Model `json:"paid"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, modelsResponse{Free: s.catalog.Free(), Paid: s.catalog.Paid()})
}

// handleOpenAIModels serves the catalog in the OpenAI list shape for SDK clients.
func (s *Server) handleOpenAIModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.catalog.OpenAIList())
}
