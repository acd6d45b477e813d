package consultation

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/consultdesk/internal/platform/auth"
	"github.com/ehr/consultdesk/internal/platform/db"
)

// Handler serves the consultation desk API. Each request is routed to the
// desk of the authenticated consultant in the request's clinic.
type Handler struct {
	dir           *Directory
	defaultClinic string
	logger        zerolog.Logger
	now           func() time.Time
}

func NewHandler(dir *Directory, defaultClinic string, logger zerolog.Logger) *Handler {
	return &Handler{dir: dir, defaultClinic: defaultClinic, logger: logger, now: time.Now}
}

// RegisterRoutes mounts the desk under /consultation, physicians only.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/consultation", auth.RequireRole(auth.RolePhysician))

	g.GET("/queue", h.GetQueue)
	g.POST("/queue/reload", h.ReloadQueue)
	g.POST("/queue/:id/select", h.SelectPatient)
	g.PATCH("/queue/:id/status", h.SetQueueStatus)

	g.GET("/session", h.GetSession)
	g.POST("/session/notes/:field/tags", h.AddNoteTag)
	g.DELETE("/session/notes/:field/tags", h.RemoveNoteTag)
	g.PUT("/session/comment", h.SetComment)
	g.POST("/session/examination/:category", h.AddFinding)
	g.DELETE("/session/examination/:category", h.RemoveFinding)
	g.POST("/session/diagnosis/:category", h.AddDiagnosis)
	g.DELETE("/session/diagnosis/:category", h.RemoveDiagnosis)

	g.GET("/catalog", h.GetCatalog)
	g.POST("/catalog/refresh", h.RefreshCatalog)
	g.POST("/session/tests/:id/toggle", h.ToggleTest)
	g.DELETE("/session/tests/:id", h.RemoveTest)
	g.POST("/session/tests/templates/:name", h.ApplyTemplate)
	g.PUT("/session/tests/:id/result", h.RecordResult)

	g.POST("/session/medications", h.AddMedication)
	g.PATCH("/session/medications/:id", h.UpdateMedicationFrequency)
	g.DELETE("/session/medications/:id", h.RemoveMedication)
	g.DELETE("/session/medications", h.ClearMedications)

	g.PUT("/session/follow-up", h.SetFollowUp)
	g.POST("/session/finish", h.Finish)

	g.GET("/patients/:id/investigations", h.GetInvestigationHistory)

	g.GET("/calc/age", h.CalcAge)
	g.GET("/calc/dose", h.CalcDose)
}

// -- Request bodies --

type tagRequest struct {
	AppointmentID string `json:"appointment_id" query:"appointment_id"`
	Tag           string `json:"tag" query:"tag"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type commentRequest struct {
	AppointmentID string `json:"appointment_id"`
	Comment       string `json:"comment"`
}

type resultRequest struct {
	AppointmentID string   `json:"appointment_id"`
	Values        []string `json:"values"`
	RefRanges     []string `json:"ref_ranges"`
	Comment       string   `json:"comment"`
}

type medicationRequest struct {
	AppointmentID       string  `json:"appointment_id"`
	DrugID              int64   `json:"drug_id"`
	ItemCode            string  `json:"item_code"`
	DrugName            string  `json:"drug_name"`
	Form                string  `json:"form"`
	QuantityPerDose     int     `json:"quantity_per_dose"`
	FrequencyCode       string  `json:"frequency_code"`
	DurationDays        int     `json:"duration_days"`
	SpecialInstructions *string `json:"special_instructions"`
}

type frequencyRequest struct {
	AppointmentID string `json:"appointment_id"`
	FrequencyCode string `json:"frequency_code"`
}

type followUpRequest struct {
	AppointmentID     string   `json:"appointment_id"`
	NextVisitDate     string   `json:"next_visit_date"`
	ChargingReference string   `json:"charging_reference"`
	DoctorCharge      *float64 `json:"doctor_charge"`
}

type finishRequest struct {
	AppointmentID string `json:"appointment_id" query:"appointment_id"`
}

// -- Desk resolution --

// registry resolves the caller's identity and clinic.
func (h *Handler) registry(c echo.Context) (*Registry, auth.Identity, error) {
	ctx := c.Request().Context()
	id, ok := auth.IdentityFromContext(ctx)
	if !ok || id.ConsultantID == "" {
		return nil, id, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated consultant")
	}
	clinic := db.ClinicFromContext(ctx)
	if clinic == "" {
		clinic = h.defaultClinic
	}
	reg, err := h.dir.Registry(clinic)
	if err != nil {
		return nil, id, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return reg, id, nil
}

func (h *Handler) desk(c echo.Context) (*Desk, auth.Identity, error) {
	ctx := c.Request().Context()
	reg, id, err := h.registry(c)
	if err != nil {
		return nil, id, err
	}
	d := reg.Desk(id.ConsultantID)
	if err := d.EnsureLoaded(ctx); err != nil {
		h.logger.Error().Err(err).Str("consultant_id", id.ConsultantID).Msg("desk load failed")
		return nil, id, echo.NewHTTPError(http.StatusBadGateway, "could not load consultant desk")
	}
	return d, id, nil
}

// edit resolves the caller's desk and applies fn to its session.
func (h *Handler) edit(c echo.Context, appointmentID string, status int, fn func(*Session) error) error {
	d, _, err := h.desk(c)
	if err != nil {
		return err
	}
	view, err := d.Edit(appointmentID, fn)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(status, view)
}

func httpError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrConcurrentFinish):
		code = http.StatusConflict
	case errors.Is(err, ErrPersistenceFailure):
		code = http.StatusBadGateway
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, ErrMissingRequiredField),
		errors.Is(err, ErrMissingIdentity),
		errors.Is(err, ErrNoActivePatient):
		code = http.StatusUnprocessableEntity
	default:
		return echo.NewHTTPError(code, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error())
}

func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

func testIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid test id")
	}
	return id, nil
}

// -- Queue --

func (h *Handler) GetQueue(c echo.Context) error {
	d, _, err := h.desk(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d.Queue())
}

func (h *Handler) ReloadQueue(c echo.Context) error {
	d, _, err := h.desk(c)
	if err != nil {
		return err
	}
	q, err := d.LoadQueue(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Str("consultant_id", d.ConsultantID()).Msg("queue reload failed")
		return echo.NewHTTPError(http.StatusBadGateway, "could not load queue")
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) SelectPatient(c echo.Context) error {
	d, _, err := h.desk(c)
	if err != nil {
		return err
	}
	view, err := d.Select(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) SetQueueStatus(c echo.Context) error {
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	status, ok := ParseQueueStatus(req.Status)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}
	d, _, err := h.desk(c)
	if err != nil {
		return err
	}
	if err := d.SetStatus(c.Param("id"), status); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d.Queue())
}

// -- Session --

func (h *Handler) GetSession(c echo.Context) error {
	d, _, err := h.desk(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d.Session())
}

func (h *Handler) AddNoteTag(c echo.Context) error {
	field, err := ParseNoteField(c.Param("field"))
	if err != nil {
		return httpError(err)
	}
	var req tagRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.edit(c, req.AppointmentID, http.StatusOK, func(s *Session) error {
		return s.AddNoteTag(field, req.Tag)
	})
}

func (h *Handler) RemoveNoteTag(c echo.Context) error {
	field, err := ParseNoteField(c.Param("field"))
	if err != nil {
		return httpError(err)
	}
	var req tagRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.edit(c, req.AppointmentID, http.StatusOK, func(s *Session) error {
		s.RemoveNoteTag(field, req.Tag)
		return nil
	})
}

func (h *Handler) SetComment(c echo.Context) error {
	var req commentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.edit(c, req.AppointmentID, http.StatusOK, func(s *Session) error {
		s.SetComment(req.Comment)
		return nil
	})
}

func (h *Handler) AddFinding(c echo.Context) error {
	category, err := ParseExamCategory(c.Param("category"))
	if err != nil {
		return httpError(err)
	}
	var req tagRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.edit(c, req.AppointmentID, http.StatusOK, func(s *Session) error {
		return s.AddFinding(category, req.Tag)
	})
}

func (h *Handler) RemoveFinding(c echo.Context) error {
	category, err := ParseExamCategory(c.Param("category"))
	if err != nil {
		return httpError(err)
	}
	var req tagRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.edit(c, req.AppointmentID, http.StatusOK, func(s *Session) error {
		s.RemoveFinding(category, req.Tag)
		return nil
	})
}

func (h *Handler) AddDiagnosis(c echo.Context) error {
	category, err := ParseDiagnosisCategory(c.Param("category"))
	if err != nil {
		return httpError(err)
	}
	var req tagRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.edit(c, req.AppointmentID, http.StatusOK, func(s *Session) error {
		return s.AddDiagnosis(category, req.Tag)
	})
}

func (h *Handler) RemoveDiagnosis(c echo.Context) error {
	category, err := ParseDiagnosisCategory(c.Param("category"))
	if err != nil {
		return httpError(err)
	}
	var req tagRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.edit(c, req.AppointmentID, http.StatusOK, func(s *Session) error {
		s.RemoveDiagnosis(category, req.Tag)
		return nil
	})
}

// -- Investigation --

func (h *Handler) GetCatalog(c echo.Context) error {
	d, _, err := h.desk(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d.Catalog(c.QueryParam("search")))
}

// RefreshCatalog reloads the lab catalog for every open desk of the clinic,
// bypassing the cache.
func (h *Handler) RefreshCatalog(c echo.Context) error {
	d, _, err := h.desk(c)
	if err != nil {
		return err
	}
	reg, _, err := h.registry(c)
	if err != nil {
		return err
	}
	if err := reg.RefreshCatalog(c.Request().Context()); err != nil {
		h.logger.Error().Err(err).Msg("catalog refresh failed")
		return echo.NewHTTPError(http.StatusBadGateway, "could not refresh catalog")
	}
	return c.JSON(http.StatusOK, d.Catalog(c.QueryParam("search")))
}

func (h *Handler) ToggleTest(c echo.Context) error {
	id, err := testIDParam(c)
	if err != nil {
		return err
	}
	return h.edit(c, c.QueryParam("appointment_id"), http.StatusOK, func(s *Session) error {
		return s.Tests().ToggleByID(id)
	})
}

func (h *Handler) RemoveTest(c echo.Context) error {
	id, err := testIDParam(c)
	if err != nil {
		return err
	}
	return h.edit(c, c.QueryParam("appointment_id"), http.StatusOK, func(s *Session) error {
		if !s.Tests().Remove(id) {
			return ErrNotFound
		}
		return nil
	})
}

func (h *Handler) ApplyTemplate(c echo.Context) error {
	name := c.Param("name")
	return h.edit(c, c.QueryParam("appointment_id"), http.StatusOK, func(s *Session) error {
		_, err := s.Tests().ApplyTemplateByName(name)
		return err
	})
}

func (h *Handler) RecordResult(c echo.Context) error {
	id, err := testIDParam(c)
	if err != nil {
		return err
	}
	var req resultRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.edit(c, req.AppointmentID, http.StatusOK, func(s *Session) error {
		return s.RecordResult(id, req.Values, req.RefRanges, req.Comment)
	})
}

// -- Management --

func (h *Handler) AddMedication(c echo.Context) error {
	var req medicationRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return h.edit(c, req.AppointmentID, http.StatusCreated, func(s *Session) error {
		_, err := s.AddMedication(PrescribedMedication{
			DrugID:              req.DrugID,
			ItemCode:            req.ItemCode,
			DrugName:            req.DrugName,
			Form:                req.Form,
			QuantityPerDose:     req.QuantityPerDose,
			FrequencyCode:       req.FrequencyCode,
			DurationDays:        req.DurationDays,
			SpecialInstructions: req.SpecialInstructions,
		})
		return err
	})
}

func (h *Handler) UpdateMedicationFrequency(c echo.Context) error {
	var req frequencyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	id := c.Param("id")
	return h.edit(c, req.AppointmentID, http.StatusOK, func(s *Session) error {
		return s.UpdateFrequency(id, req.FrequencyCode)
	})
}

func (h *Handler) RemoveMedication(c echo.Context) error {
	id := c.Param("id")
	return h.edit(c, c.QueryParam("appointment_id"), http.StatusOK, func(s *Session) error {
		if !s.RemoveMedication(id) {
			return ErrNotFound
		}
		return nil
	})
}

func (h *Handler) ClearMedications(c echo.Context) error {
	return h.edit(c, c.QueryParam("appointment_id"), http.StatusOK, func(s *Session) error {
		s.ClearMedications()
		return nil
	})
}

// -- Scheduling and finish --

func (h *Handler) SetFollowUp(c echo.Context) error {
	var req followUpRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	f := FollowUp{ChargingReference: req.ChargingReference, DoctorCharge: req.DoctorCharge}
	if req.NextVisitDate != "" {
		next, err := ParseDate(req.NextVisitDate)
		if err != nil {
			return httpError(err)
		}
		f.NextVisitDate = &next
	}
	return h.edit(c, req.AppointmentID, http.StatusOK, func(s *Session) error {
		return s.SetFollowUp(f)
	})
}

func (h *Handler) Finish(c echo.Context) error {
	var req finishRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d, id, err := h.desk(c)
	if err != nil {
		return err
	}
	res, err := d.Finish(c.Request().Context(), req.AppointmentID, id.Author)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetInvestigationHistory(c echo.Context) error {
	var from, to time.Time
	var err error
	if v := c.QueryParam("from"); v != "" {
		if from, err = ParseDate(v); err != nil {
			return httpError(err)
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = ParseDate(v); err != nil {
			return httpError(err)
		}
	}
	d, _, err := h.desk(c)
	if err != nil {
		return err
	}
	groups, err := d.History(c.Request().Context(), c.Param("id"), from, to)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return httpError(err)
		}
		h.logger.Error().Err(err).Msg("investigation history failed")
		return echo.NewHTTPError(http.StatusBadGateway, "could not load investigation history")
	}
	return c.JSON(http.StatusOK, groups)
}

// -- Calculators --

func (h *Handler) CalcAge(c echo.Context) error {
	dob, err := ParseDate(c.QueryParam("dob"))
	if err != nil {
		return httpError(err)
	}
	now := h.now()
	if v := c.QueryParam("now"); v != "" {
		if now, err = ParseDate(v); err != nil {
			return httpError(err)
		}
	}
	age := CalculateAge(dob, now)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"years":     age.Years,
		"months":    age.Months,
		"days":      age.Days,
		"is_future": age.IsFuture,
		"display":   age.String(),
	})
}

func (h *Handler) CalcDose(c echo.Context) error {
	qty, err := strconv.Atoi(c.QueryParam("qty"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "qty must be an integer")
	}
	days, err := strconv.Atoi(c.QueryParam("days"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "days must be an integer")
	}
	freq := c.QueryParam("freq")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"frequency_code": freq,
		"multiplier":     Multiplier(freq),
		"total_quantity": TotalQuantity(qty, days, freq),
		"known_codes":    FrequencyCodes(),
	})
}
