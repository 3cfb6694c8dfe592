package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Alturino/storefront/cart/internal/common/otel"
	"github.com/Alturino/storefront/cart/pkg/request"
	"github.com/Alturino/storefront/cart/pkg/store"
	commonErrors "github.com/Alturino/storefront/internal/common/errors"
	"github.com/Alturino/storefront/internal/common/validate"
	commonHttp "github.com/Alturino/storefront/internal/http"
	"github.com/Alturino/storefront/internal/log"
)

type CartController struct {
	store    *store.Store
	validate *validator.Validate
}

func AttachCartController(mux *mux.Router, store *store.Store) {
	controller := CartController{store: store, validate: validate.New()}

	router := mux.PathPrefix("/cart").Subrouter()
	router.HandleFunc("", controller.GetCart).Methods(http.MethodGet)
	router.HandleFunc("", controller.ClearCart).Methods(http.MethodDelete)
	router.HandleFunc("/lines", controller.AddLine).Methods(http.MethodPost)
	router.HandleFunc("/lines/{lineId}", controller.RemoveLine).Methods(http.MethodDelete)
	router.HandleFunc("/lines/{lineId}/increment", controller.Increment).Methods(http.MethodPost)
	router.HandleFunc("/lines/{lineId}/decrement", controller.Decrement).Methods(http.MethodPost)
}

func (ctrl CartController) GetCart(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "CartController GetCart")
	defer span.End()

	snapshot := ctrl.store.Snapshot()
	zerolog.Ctx(c).Debug().
		Str(log.KeyTag, "CartController GetCart").
		Int(log.KeyCartItemCount, snapshot.ItemCount).
		Msg("found cart")

	commonHttp.WriteSuccess(c, w, "found cart", map[string]interface{}{"cart": snapshot})
}

func (ctrl CartController) AddLine(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "CartController AddLine")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "CartController AddLine").
		Logger()

	logger = logger.With().Str(log.KeyProcess, "decoding request body").Logger()
	logger.Info().Msg("decoding request body")
	reqBody := request.AddLine{}
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
		Str(log.KeyProcess, "adding line").
		Str(log.KeyCartLineID, reqBody.ID).
		Logger()
	logger.Info().Msg("adding line")
	c = logger.WithContext(c)
	ctrl.store.AddLine(c, store.Item{
		ID:         reqBody.ID,
		Price:      reqBody.Price,
		Attributes: reqBody.Attributes,
	}, reqBody.Quantity)
	snapshot := ctrl.store.Snapshot()
	logger.Info().Str(log.KeyCartSubtotal, snapshot.Subtotal.String()).Msg("added line")

	commonHttp.WriteSuccess(c, w, "added line", map[string]interface{}{"cart": snapshot})
}

func (ctrl CartController) RemoveLine(w http.ResponseWriter, r *http.Request) {
	ctrl.mutateLine(w, r, "CartController RemoveLine", "removed line", ctrl.store.RemoveLine)
}

func (ctrl CartController) Increment(w http.ResponseWriter, r *http.Request) {
	ctrl.mutateLine(w, r, "CartController Increment", "incremented line", ctrl.store.Increment)
}

func (ctrl CartController) Decrement(w http.ResponseWriter, r *http.Request) {
	ctrl.mutateLine(w, r, "CartController Decrement", "decremented line", ctrl.store.Decrement)
}

func (ctrl CartController) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "CartController ClearCart")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "CartController ClearCart").
		Str(log.KeyProcess, "clearing cart").
		Logger()
	logger.Info().Msg("clearing cart")
	c = logger.WithContext(c)
	ctrl.store.Clear(c)
	logger.Info().Msg("cleared cart")

	commonHttp.WriteSuccess(c, w, "cleared cart", map[string]interface{}{"cart": ctrl.store.Snapshot()})
}

// mutateLine applies a line operation. Unknown ids are not an error; the
// cart is returned unchanged.
func (ctrl CartController) mutateLine(
	w http.ResponseWriter,
	r *http.Request,
	tag string,
	done string,
	mutate func(c context.Context, id string),
) {
	c, span := otel.Tracer.Start(r.Context(), tag)
	defer span.End()

	lineID := mux.Vars(r)["lineId"]
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, tag).
		Str(log.KeyCartLineID, lineID).
		Logger()

	c = logger.WithContext(c)
	mutate(c, lineID)
	snapshot := ctrl.store.Snapshot()
	logger.Info().Int(log.KeyCartItemCount, snapshot.ItemCount).Msg(done)

	commonHttp.WriteSuccess(c, w, done, map[string]interface{}{"cart": snapshot})
}
