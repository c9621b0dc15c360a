package relay

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"

	"github.com/voceo/voceo/pkg/redact"
)

// fallbackQuestions is the canned bank served when the realtime path is
// unavailable and the client asks for a textual follow-up instead.
var fallbackQuestions = []string{
	"Can you tell me about a challenging project you've worked on?",
	"How do you handle conflicts in a team?",
	"What are your strengths and weaknesses?",
	"Where do you see yourself in 5 years?",
	"Why do you want to work for our company?",
	"How do you stay updated with the latest trends in your field?",
	"Can you describe a situation where you had to meet a tight deadline?",
	"What's your approach to problem-solving?",
	"How do you handle criticism?",
	"What motivates you in your work?",
}

type fallbackRequest struct {
	Text string `json:"text"`
}

type fallbackResponse struct {
	Question string `json:"question"`
}

// handleFallbackQuestion serves POST /api/llm: {text} in, {question} out.
func (s *Server) handleFallbackQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req fallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	resp := fallbackResponse{
		Question: fallbackQuestions[rand.Intn(len(fallbackQuestions))],
	}
	s.logger.Debug("fallback_question_served",
		slog.String("candidate_text", redact.Text(req.Text)))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
