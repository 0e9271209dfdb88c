package i18n

var messages = map[string]map[string]string{
	LocaleES: {
		"error.bad_request":                 "Solicitud inválida",
		"error.unauthorized":                "No autenticado",
		"error.token_invalid":               "Token inválido o expirado",
		"error.jwt_secret_missing":          "Autenticación no configurada",
		"error.auth_header_missing":         "Falta la cabecera Authorization",
		"error.auth_header_invalid":         "Cabecera Authorization inválida",
		"error.forbidden":                   "No tiene permiso para esta operación",
		"error.internal":                    "Error interno del servidor",
		"error.payment_not_found":           "Pago no encontrado",
		"error.payment_invalid":             "Datos de pago inválidos",
		"error.payment_status_invalid":      "Estado de pago inválido",
		"error.invalid_state":               "El estado del pago no permite esta operación",
		"error.payment_store_failed":        "No se pudo guardar el pago",
		"error.gateway_unavailable":         "La pasarela de pago no está disponible, intente nuevamente",
		"error.gateway_reference_not_found": "La pasarela no reconoce la referencia de pago",
		"error.gateway_not_configured":      "Pasarela de pago no configurada",
		"error.wallet_disabled":             "El pago con billetera móvil no está habilitado",
		"error.rate_limited":                "Demasiadas solicitudes, intente en %d segundos",
		"error.rate_limit_unavailable":      "Servicio de limitación no disponible",
		"error.webhook_body_invalid":        "Cuerpo de notificación inválido",
	},
	LocaleEN: {
		"error.bad_request":                 "Bad request",
		"error.unauthorized":                "Unauthorized",
		"error.token_invalid":               "Invalid or expired token",
		"error.jwt_secret_missing":          "Authentication is not configured",
		"error.auth_header_missing":         "Authorization header is missing",
		"error.auth_header_invalid":         "Authorization header is invalid",
		"error.forbidden":                   "Operation not permitted",
		"error.internal":                    "Internal server error",
		"error.payment_not_found":           "Payment not found",
		"error.payment_invalid":             "Invalid payment request",
		"error.payment_status_invalid":      "Invalid payment status",
		"error.invalid_state":               "Payment state does not allow this operation",
		"error.payment_store_failed":        "Failed to persist payment",
		"error.gateway_unavailable":         "Payment gateway unavailable, please retry",
		"error.gateway_reference_not_found": "Payment gateway does not recognize the reference",
		"error.gateway_not_configured":      "Payment gateway not configured",
		"error.wallet_disabled":             "Mobile wallet payments are disabled",
		"error.rate_limited":                "Too many requests, retry in %d seconds",
		"error.rate_limit_unavailable":      "Rate limiter unavailable",
		"error.webhook_body_invalid":        "Invalid notification body",
	},
}
