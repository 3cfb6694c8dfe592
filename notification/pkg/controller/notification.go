package controller

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	commonErrors "github.com/Alturino/storefront/internal/common/errors"
	commonHttp "github.com/Alturino/storefront/internal/http"
	"github.com/Alturino/storefront/internal/log"
	"github.com/Alturino/storefront/notification/internal/common/otel"
	"github.com/Alturino/storefront/notification/pkg/queue"
)

type NotificationController struct {
	queue *queue.Queue
}

func AttachNotificationController(mux *mux.Router, queue *queue.Queue) {
	controller := NotificationController{queue: queue}

	router := mux.PathPrefix("/notifications").Subrouter()
	router.HandleFunc("", controller.FindNotifications).Methods(http.MethodGet)
	router.HandleFunc("", controller.DismissAll).Methods(http.MethodDelete)
	router.HandleFunc("/{notificationId}", controller.Dismiss).Methods(http.MethodDelete)
}

func (ctrl NotificationController) FindNotifications(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "NotificationController FindNotifications")
	defer span.End()

	data := map[string]interface{}{"visible": nil, "pending": ctrl.queue.Pending()}
	if n, ok := ctrl.queue.Visible(); ok {
		data["visible"] = n
	}
	commonHttp.WriteSuccess(c, w, "found notifications", data)
}

func (ctrl NotificationController) Dismiss(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "NotificationController Dismiss")
	defer span.End()

	id := mux.Vars(r)["notificationId"]
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "NotificationController Dismiss").
		Str(log.KeyNotificationID, id).
		Str(log.KeyProcess, "dismissing notification").
		Logger()

	logger.Info().Msg("dismissing notification")
	if !ctrl.queue.Dismiss(id) {
		err := fmt.Errorf("failed dismissing notification id=%s with error=%w", id, commonErrors.ErrNotificationAbsent)
		commonErrors.HandleError(err, span)
		logger.Warn().Err(err).Msg(err.Error())
		commonHttp.WriteFailure(c, w, http.StatusNotFound, err)
		return
	}
	logger.Info().Msg("dismissed notification")

	commonHttp.WriteSuccess(c, w, "dismissed notification", nil)
}

func (ctrl NotificationController) DismissAll(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "NotificationController DismissAll")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "NotificationController DismissAll").
		Str(log.KeyProcess, "dismissing all notifications").
		Logger()
	logger.Info().Msg("dismissing all notifications")
	ctrl.queue.DismissAll()
	logger.Info().Msg("dismissed all notifications")

	commonHttp.WriteSuccess(c, w, "dismissed all notifications", nil)
}
