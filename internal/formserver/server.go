// Package formserver serves a minimal local feedback form compatible with
// the web-form automation, useful for demos and offline runs.
package formserver

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

const formPage = `<!DOCTYPE html>
<html lang="es">
<head><meta charset="utf-8"><title>Formulario de Feedback</title></head>
<body>
  <h1>Formulario de Feedback RPA</h1>
  <form action="/submit" method="post" enctype="multipart/form-data">
    <p><label>Nombre del colaborador<br>
      <input type="text" name="nombre"></label></p>
    <p><label>Comentarios<br>
      <textarea name="comentarios" rows="4" cols="48"></textarea></label></p>
    <p><label>Archivo adjunto<br>
      <input type="file" name="archivo"></label></p>
    <p><button type="submit">Enviar</button></p>
  </form>
</body>
</html>`

const confirmationPage = `<!DOCTYPE html>
<html lang="es">
<head><meta charset="utf-8"><title>Confirmaci&oacute;n</title></head>
<body>
  <h1>Tu respuesta se ha registrado</h1>
  <p>Gracias por tu feedback.</p>
</body>
</html>`

// Server hosts the form and stores received submissions under uploadDir.
type Server struct {
	uploadDir string
	logger    *zap.Logger
}

// NewServer builds a Server writing uploads to uploadDir.
func NewServer(uploadDir string, logger *zap.Logger) *Server {
	return &Server{uploadDir: uploadDir, logger: logger}
}

// Router returns the chi router for the form endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", s.handleForm)
	r.Post("/submit", s.handleSubmit)
	return r
}

// ListenAndServe serves the form on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("form server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, formPage)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}

	nombre := r.FormValue("nombre")
	comentarios := r.FormValue("comentarios")
	saved := s.saveAttachment(r)

	s.logger.Info("form submission received",
		zap.String("nombre", nombre),
		zap.Int("comentarios_len", len(comentarios)),
		zap.String("archivo", saved))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, confirmationPage)
}

// saveAttachment stores the uploaded file, if any, and returns its name.
func (s *Server) saveAttachment(r *http.Request) string {
	file, header, err := r.FormFile("archivo")
	if err != nil {
		return ""
	}
	defer file.Close()

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.logger.Warn("create upload dir", zap.Error(err))
		return ""
	}
	name := filepath.Base(header.Filename)
	dst, err := os.Create(filepath.Join(s.uploadDir, name))
	if err != nil {
		s.logger.Warn("save attachment", zap.Error(err))
		return ""
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		s.logger.Warn("write attachment", zap.Error(err))
		return ""
	}
	return name
}
