package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/observability/log"
	"github.com/zeusync/cartsync/internal/core/wire"
)

// pathParam returns the unescaped route parameter.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (s *Server) requestLogger(r *http.Request) log.Log {
	ctx := log.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	return s.logger.WithContext(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"streams": s.StreamCount(),
	})
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	uid := pathParam(r, "uid")
	c, err := s.db.Get(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeCart(w, uid, c)
}

func (s *Server) handleSetLine(w http.ResponseWriter, r *http.Request) {
	uid, pid := pathParam(r, "uid"), pathParam(r, "productID")
	var req wire.SetLineRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.db.SetLine(r.Context(), uid, pid, req.Line)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.requestLogger(r).Debug("Cart line set", log.UserUID(uid), log.ProductID(pid), log.Int("quantity", req.Line.Quantity))
	writeCart(w, uid, c)
}

func (s *Server) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	uid, pid := pathParam(r, "uid"), pathParam(r, "productID")
	var req wire.UpdateQuantityRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.db.UpdateQuantity(r.Context(), uid, pid, req.Quantity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.requestLogger(r).Debug("Cart quantity updated", log.UserUID(uid), log.ProductID(pid), log.Int("quantity", req.Quantity))
	writeCart(w, uid, c)
}

func (s *Server) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	uid, pid := pathParam(r, "uid"), pathParam(r, "productID")
	c, err := s.db.RemoveLine(r.Context(), uid, pid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.requestLogger(r).Debug("Cart line removed", log.UserUID(uid), log.ProductID(pid))
	writeCart(w, uid, c)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.requestLogger(r).Error("Request failed",
			log.String("method", r.Method), log.String("path", r.URL.Path), log.Error(err))
	}
	writeJSON(w, status, wire.ErrorResponse{Error: err.Error(), Code: code})
}

func writeCart(w http.ResponseWriter, uid string, c cart.Cart) {
	if c == nil {
		c = cart.New()
	}
	writeJSON(w, http.StatusOK, wire.CartResponse{UserUID: uid, Items: c})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
