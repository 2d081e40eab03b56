// utilitário pequeno para formatação rápida/consistente de valores numéricos em headers.
// Padroniza a formatação do float (strconv.FormatFloat), evitando notação científica
// em valores comuns.

package admission

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// retryAfterSeconds arredonda para cima e nunca devolve menos que 1.
func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return formatInt(secs)
}
