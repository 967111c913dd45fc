package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"thrivesight/pkg/common"
	"thrivesight/pkg/config"
	"thrivesight/pkg/core"
	"thrivesight/pkg/model"
	"thrivesight/pkg/monitor"
	"thrivesight/pkg/storage"
)

const (
	defaultRecent = 20
	defaultModels = 10
)

// Service is what the HTTP layer needs from the prediction service.
type Service interface {
	Predict(ctx context.Context, p common.Profile) (common.Prediction, error)
	PredictBatch(ctx context.Context, profiles []common.Profile) ([]common.Prediction, error)
	Train(ctx context.Context, req core.TrainRequest) (*storage.ModelRecord, error)
	ModelInfo() (core.ModelInfo, error)
	ExportModel() (*model.ForestExport, error)
	Models(limit int) ([]storage.ModelRecord, error)
	Recent(limit int) ([]common.Prediction, error)
	Prediction(id common.ID) (common.Prediction, error)
	AddSample(ctx context.Context, s common.Sample) error
	Stats() map[string]interface{}
	Reset() error
}

type batchRequest struct {
	Profiles []common.Profile `json:"profiles" binding:"required,min=1,max=500,dive"`
}

type Server struct {
	svc     Service
	conf    config.ServerConfig
	logger  *slog.Logger
	metrics *monitor.Metrics
	engine  *gin.Engine
	srv     *http.Server
}

var registerOnce sync.Once

// registerBindings teaches gin's validator the custom struct tags.
func registerBindings(logger *slog.Logger) {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		if err := common.RegisterValidations(v); err != nil {
			logger.Error("register binding validations", "error", err)
		}
	})
}

func NewServer(svc Service, conf config.ServerConfig, metrics *monitor.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registerBindings(logger)

	s := &Server{
		svc:     svc,
		conf:    conf,
		logger:  logger,
		metrics: metrics,
	}

	engine := gin.New()
	engine.Use(recovery(logger), requestLogger(logger))
	if metrics != nil {
		engine.Use(httpMetrics(metrics))
		engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := engine.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/predict", s.handlePredict)
		api.POST("/predict/batch", s.handlePredictBatch)
		api.POST("/train", s.handleTrain)
		api.GET("/model", s.handleModel)
		api.GET("/model/export", s.handleExport)
		api.GET("/models", s.handleModels)
		api.GET("/predictions", s.handleRecent)
		api.GET("/predictions/:id", s.handlePrediction)
		api.POST("/samples", s.handleSample)
		api.GET("/stats", s.handleStats)
		api.POST("/reset", s.handleReset)
	}

	if conf.StaticDir != "" {
		if st, err := os.Stat(conf.StaticDir); err == nil && st.IsDir() {
			engine.NoRoute(gin.WrapH(http.FileServer(http.Dir(conf.StaticDir))))
		} else {
			logger.Warn("static dir not found, dashboard disabled", "dir", conf.StaticDir)
		}
	}

	s.engine = engine
	s.srv = &http.Server{
		Addr:    conf.Addr,
		Handler: engine,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server listening", "addr", s.conf.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.conf.ShutdownTimeout)
		defer cancel()
		s.logger.Info("http server stopping")
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	info, err := s.svc.ModelInfo()
	success(c, gin.H{
		"status":        "ok",
		"model_loaded":  err == nil,
		"model_version": info.Version,
	})
}

func (s *Server) handlePredict(c *gin.Context) {
	var p common.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, s.logger, badRequest(err))
		return
	}
	pred, err := s.svc.Predict(c.Request.Context(), p)
	if err != nil {
		fail(c, s.logger, err)
		return
	}
	success(c, pred)
}

func (s *Server) handlePredictBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, s.logger, badRequest(err))
		return
	}
	preds, err := s.svc.PredictBatch(c.Request.Context(), req.Profiles)
	if err != nil {
		fail(c, s.logger, err)
		return
	}
	success(c, gin.H{"predictions": preds})
}

func (s *Server) handleTrain(c *gin.Context) {
	var req core.TrainRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, s.logger, badRequest(err))
			return
		}
	}
	rec, err := s.svc.Train(c.Request.Context(), req)
	if err != nil {
		fail(c, s.logger, err)
		return
	}
	successWithStatus(c, http.StatusCreated, rec)
}

func (s *Server) handleModel(c *gin.Context) {
	info, err := s.svc.ModelInfo()
	if err != nil {
		fail(c, s.logger, err)
		return
	}
	success(c, info)
}

func (s *Server) handleExport(c *gin.Context) {
	exp, err := s.svc.ExportModel()
	if err != nil {
		fail(c, s.logger, err)
		return
	}
	success(c, exp)
}

func (s *Server) handleModels(c *gin.Context) {
	limit, err := queryLimit(c, defaultModels, core.MaxRecent)
	if err != nil {
		fail(c, s.logger, err)
		return
	}
	models, err := s.svc.Models(limit)
	if err != nil {
		fail(c, s.logger, err)
		return
	}
	success(c, models)
}

func (s *Server) handleRecent(c *gin.Context) {
	limit, err := queryLimit(c, defaultRecent, core.MaxRecent)
	if err != nil {
		fail(c, s.logger, err)
		return
	}
	preds, err := s.svc.Recent(limit)
	if err != nil {
		fail(c, s.logger, err)
		return
	}
	success(c, preds)
}

func (s *Server) handlePrediction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, s.logger, badRequest(fmt.Errorf("invalid prediction id %q", c.Param("id"))))
		return
	}
	pred, err := s.svc.Prediction(common.ID(id))
	if err != nil {
		fail(c, s.logger, err)
		return
	}
	success(c, pred)
}

func (s *Server) handleSample(c *gin.Context) {
	var sample common.Sample
	if err := c.ShouldBindJSON(&sample); err != nil {
		fail(c, s.logger, badRequest(err))
		return
	}
	if err := s.svc.AddSample(c.Request.Context(), sample); err != nil {
		fail(c, s.logger, err)
		return
	}
	successWithStatus(c, http.StatusCreated, sample)
}

func (s *Server) handleStats(c *gin.Context) {
	success(c, s.svc.Stats())
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.svc.Reset(); err != nil {
		fail(c, s.logger, err)
		return
	}
	success(c, gin.H{"reset": true})
}

// queryLimit reads ?limit=, falling back to def and capping at upper.
func queryLimit(c *gin.Context, def, upper int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, badRequest(fmt.Errorf("limit must be a positive integer, got %q", raw))
	}
	if n > upper {
		n = upper
	}
	return n, nil
}
