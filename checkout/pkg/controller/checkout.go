package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Alturino/storefront/checkout/internal/common/otel"
	"github.com/Alturino/storefront/checkout/pkg/request"
	"github.com/Alturino/storefront/checkout/pkg/session"
	commonErrors "github.com/Alturino/storefront/internal/common/errors"
	"github.com/Alturino/storefront/internal/common/validate"
	commonHttp "github.com/Alturino/storefront/internal/http"
	"github.com/Alturino/storefront/internal/log"
)

type CheckoutController struct {
	session  *session.Session
	validate *validator.Validate
}

func AttachCheckoutController(mux *mux.Router, session *session.Session) {
	controller := CheckoutController{session: session, validate: validate.New()}

	router := mux.PathPrefix("/checkout").Subrouter()
	router.HandleFunc("", controller.GetSession).Methods(http.MethodGet)
	router.HandleFunc("/methods", controller.FindMethods).Methods(http.MethodGet)
	router.HandleFunc("/method", controller.SelectMethod).Methods(http.MethodPost)
	router.HandleFunc("/start", controller.Start).Methods(http.MethodPost)
	router.HandleFunc("/verify", controller.Verify).Methods(http.MethodPost)
	router.HandleFunc("/cancel", controller.Cancel).Methods(http.MethodPost)
}

func (ctrl CheckoutController) GetSession(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "CheckoutController GetSession")
	defer span.End()

	commonHttp.WriteSuccess(c, w, "found payment session", map[string]interface{}{
		"session": ctrl.session.State(),
	})
}

func (ctrl CheckoutController) FindMethods(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "CheckoutController FindMethods")
	defer span.End()

	methods := []map[string]string{}
	for _, m := range ctrl.session.Methods() {
		methods = append(methods, map[string]string{"name": m.Name, "currency": m.Currency})
	}
	commonHttp.WriteSuccess(c, w, "found payment methods", map[string]interface{}{"methods": methods})
}

func (ctrl CheckoutController) SelectMethod(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "CheckoutController SelectMethod")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "CheckoutController SelectMethod").
		Logger()

	logger = logger.With().Str(log.KeyProcess, "decoding request body").Logger()
	logger.Info().Msg("decoding request body")
	reqBody := request.SelectMethod{}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		err = fmt.Errorf("failed decoding request body with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		commonHttp.WriteFailure(c, w, http.StatusBadRequest, err)
		return
	}
	logger.Info().Msg("decoded request body")

	logger = logger.With().Str(log.KeyProcess, "validating request body").Logger()
	logger.Info().Msg("validating request body")
	if err := ctrl.validate.StructCtx(c, reqBody); err != nil {
		err = fmt.Errorf("failed validating request body with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		commonHttp.WriteFailure(c, w, http.StatusBadRequest, err)
		return
	}
	logger.Info().Msg("validated request body")

	logger = logger.With().
		Str(log.KeyProcess, "selecting payment method").
		Str(log.KeyPaymentMethod, reqBody.Method).
		Logger()
	logger.Info().Msg("selecting payment method")
	c = logger.WithContext(c)
	state, err := ctrl.session.SelectMethod(c, reqBody.Method, reqBody.Contact)
	if err != nil {
		ctrl.writeError(c, w, err)
		return
	}
	logger.Info().Msg("selected payment method")

	commonHttp.WriteSuccess(c, w, "selected payment method", map[string]interface{}{"session": state})
}

func (ctrl CheckoutController) Start(w http.ResponseWriter, r *http.Request) {
	ctrl.act(w, r, "CheckoutController Start", "started payment", ctrl.session.Start)
}

func (ctrl CheckoutController) Verify(w http.ResponseWriter, r *http.Request) {
	ctrl.act(w, r, "CheckoutController Verify", "verified payment", ctrl.session.Verify)
}

func (ctrl CheckoutController) Cancel(w http.ResponseWriter, r *http.Request) {
	ctrl.act(w, r, "CheckoutController Cancel", "cancelled payment", ctrl.session.Cancel)
}

func (ctrl CheckoutController) act(
	w http.ResponseWriter,
	r *http.Request,
	tag string,
	done string,
	action func(c context.Context) (session.State, error),
) {
	c, span := otel.Tracer.Start(r.Context(), tag)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, tag).
		Logger()

	c = logger.WithContext(c)
	state, err := action(c)
	if err != nil {
		commonErrors.HandleError(err, span)
		ctrl.writeError(c, w, err)
		return
	}
	logger.Info().Str(log.KeyPaymentStatus, string(state.Status)).Msg(done)

	commonHttp.WriteSuccess(c, w, done, map[string]interface{}{"session": state})
}

func (ctrl CheckoutController) writeError(c context.Context, w http.ResponseWriter, err error) {
	commonHttp.WriteFailure(c, w, statusCode(err), err)
}

func statusCode(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, commonErrors.ErrUnknownMethod):
		return http.StatusBadRequest
	case errors.Is(err, commonErrors.ErrEmptyCart),
		errors.Is(err, commonErrors.ErrInvalidTransition),
		errors.Is(err, commonErrors.ErrMethodNotSelected),
		errors.Is(err, commonErrors.ErrNoActivePayment),
		errors.Is(err, commonErrors.ErrStaleResponse):
		return http.StatusConflict
	case errors.Is(err, commonErrors.ErrSessionClosed):
		return http.StatusServiceUnavailable
	}
	// Gateway refusals and verify failures after retries.
	return http.StatusBadGateway
}
