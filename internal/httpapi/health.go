package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"clinicd/internal/device"
	"clinicd/internal/manager"
	"clinicd/pkg/types"
)

// handleRoot godoc
//
//	@Summary	Service banner
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/ [get]
func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"message": "clinicd is running",
		"version": s.opts.Version,
	}
	if s.opts.Swagger {
		body["docs"] = "/swagger/index.html"
	}
	writeJSON(w, r, http.StatusOK, body)
}

// handleStatus godoc
//
//	@Summary	Model manager status
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	types.StatusResponse
//	@Router		/status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.svc.Status())
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("loading"))
}

// handleHealth godoc
//
//	@Summary	Liveness banner
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	types.HealthResponse
//	@Router		/health [get]
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, types.HealthResponse{Status: "healthy", ModelsLoaded: s.svc.Ready()})
}

// handleLive godoc
//
//	@Summary	Liveness probe
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	types.ReadinessResponse
//	@Router		/health/live [get]
func (s *server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, types.ReadinessResponse{Status: "alive", Ready: true})
}

// handleReady godoc
//
//	@Summary	Readiness probe
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	types.ReadinessResponse
//	@Failure	503	{object}	types.ReadinessResponse
//	@Router		/health/ready [get]
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready() {
		writeJSON(w, r, http.StatusOK, types.ReadinessResponse{Status: "ready", Ready: true})
		return
	}
	writeJSON(w, r, http.StatusServiceUnavailable, types.ReadinessResponse{Status: "models not loaded", Ready: false})
}

// handleDetailed godoc
//
//	@Summary	Detailed health
//	@Description	Model slots, device, Go memory statistics and uptime. 503 when the required models are missing.
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	types.DetailedHealthResponse
//	@Failure	503	{object}	types.DetailedHealthResponse
//	@Router		/health/detailed [get]
func (s *server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()
	models := make(map[string]bool, len(st.Models))
	for _, m := range st.Models {
		models[m.Kind] = m.Loaded
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info := device.Describe(s.svc.Device())

	resp := types.DetailedHealthResponse{
		Models: models,
		Device: types.DeviceInfo{
			Device:        info.Device,
			Accelerated:   info.Accelerated,
			CPUBrand:      info.CPUBrand,
			PhysicalCores: info.PhysicalCores,
			LogicalCores:  info.LogicalCores,
			CPUFeatures:   info.CPUFeatures,
			OS:            info.OS,
			Arch:          info.Arch,
		},
		Memory: types.MemoryStats{
			AllocMB:      mb(ms.Alloc),
			SysMB:        mb(ms.Sys),
			HeapInuseMB:  mb(ms.HeapInuse),
			NumGC:        ms.NumGC,
			NumGoroutine: runtime.NumGoroutine(),
		},
		UptimeSeconds: int64(time.Since(s.opts.StartTime).Seconds()),
		Version:       s.opts.Version,
	}
	status := http.StatusOK
	switch {
	case !s.svc.Ready():
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case !s.svc.GeneratorLoaded() || !info.Accelerated:
		// template recommendations or CPU-only inference
		resp.Status = "degraded"
	default:
		resp.Status = "healthy"
	}
	writeJSON(w, r, status, resp)
}

func mb(b uint64) float64 { return float64(b) / (1 << 20) }

// handleAPIHealth godoc
//
//	@Summary	Model readiness
//	@Tags		analysis
//	@Produce	json
//	@Success	200	{object}	types.HealthResponse
//	@Router		/api/v1/health [get]
func (s *server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	ready := s.svc.Ready()
	status := "healthy"
	if !ready {
		status = "degraded"
	}
	writeJSON(w, r, http.StatusOK, types.HealthResponse{Status: status, ModelsLoaded: ready})
}

// handleDeviceStatus godoc
//
//	@Summary	Execution device
//	@Tags		analysis
//	@Produce	json
//	@Success	200	{object}	types.DeviceStatusResponse
//	@Router		/api/v1/get_status [get]
func (s *server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, types.DeviceStatusResponse{Status: "ok", Device: s.svc.Device().String()})
}

// handleLabels godoc
//
//	@Summary	Condition labels
//	@Tags		analysis
//	@Produce	json
//	@Success	200	{object}	types.LabelsResponse
//	@Router		/api/v1/labels [get]
func (s *server) handleLabels(w http.ResponseWriter, r *http.Request) {
	names := s.svc.Labels()
	out := types.LabelsResponse{Labels: make([]types.Label, len(names))}
	for i, n := range names {
		out.Labels[i] = types.Label{ID: i, Name: n}
	}
	writeJSON(w, r, http.StatusOK, out)
}

var _ Service = (*manager.Manager)(nil)
