package domain

// AlertColor is the severity color shown next to the coop assessment.
type AlertColor string

const (
	AlertGreen  AlertColor = "green"
	AlertOrange AlertColor = "orange"
	AlertRed    AlertColor = "red"
)

// Thresholds for laying hens, in Celsius and relative humidity percent.
const (
	criticalColdC = 10.0
	coldC         = 18.0
	hotC          = 28.0
	criticalHotC  = 32.0

	lowHumidity  = 40.0
	highHumidity = 80.0
)

// CoopAssessment summarizes how the current weather affects the hen house.
type CoopAssessment struct {
	Sensation      string     `json:"sensacao"`
	Alerts         []string   `json:"alertas"`
	AlertColor     AlertColor `json:"corAlerta"`
	Recommendation string     `json:"recomendacao"`
	Icon           string     `json:"icone"`
}

// AssessCoopConditions evaluates a temperature/humidity pair against the
// comfort range of laying hens (18-25 °C, 50-70 %).
func AssessCoopConditions(temperatureC, humidity float64) CoopAssessment {
	a := CoopAssessment{
		Sensation:  "Ideal",
		AlertColor: AlertGreen,
	}

	switch {
	case temperatureC < criticalColdC:
		a.Alerts = append(a.Alerts, "Temperatura crítica baixa - Risco de hipotermia")
		a.Sensation = "Crítico - Frio"
		a.AlertColor = AlertRed
	case temperatureC < coldC:
		a.Alerts = append(a.Alerts, "Temperatura baixa - Providenciar aquecimento")
		a.Sensation = "Frio"
		a.AlertColor = AlertOrange
	case temperatureC > criticalHotC:
		a.Alerts = append(a.Alerts, "Temperatura crítica alta - Risco de estresse térmico")
		a.Sensation = "Crítico - Calor"
		a.AlertColor = AlertRed
	case temperatureC > hotC:
		a.Alerts = append(a.Alerts, "Temperatura elevada - Aumentar ventilação e água")
		a.Sensation = "Quente"
		a.AlertColor = AlertOrange
	}

	switch {
	case humidity < lowHumidity:
		a.Alerts = append(a.Alerts, "Umidade baixa - Aumentar água e ventilação")
	case humidity > highHumidity:
		a.Alerts = append(a.Alerts, "Umidade alta - Risco de problemas respiratórios")
	}

	if (humidity < lowHumidity || humidity > highHumidity) && a.AlertColor == AlertGreen {
		a.AlertColor = AlertOrange
	}

	if len(a.Alerts) == 0 {
		a.Alerts = append(a.Alerts, "Condições ideais para o galinheiro")
	}

	a.Recommendation = recommendation(temperatureC, humidity)
	a.Icon = icon(temperatureC, humidity)

	return a
}

// AssessReading runs AssessCoopConditions on a reading and flags simulated data.
func AssessReading(r WeatherReading) CoopAssessment {
	a := AssessCoopConditions(r.TemperatureCelsius, r.HumidityPercent)

	if r.IsSimulated() {
		a.Alerts = append(a.Alerts, "Dados simulados para demonstração")
	}

	return a
}

func recommendation(temperatureC, humidity float64) string {
	switch {
	case temperatureC < coldC:
		return "Use lâmpadas ou aquecedores para elevar a temperatura."
	case temperatureC > hotC:
		return "Aumente a ventilação e garanta água fresca abundante."
	case humidity < lowHumidity:
		return "Borrifar água no ambiente pode ajudar."
	case humidity > highHumidity:
		return "Melhore a ventilação para reduzir umidade."
	default:
		return "Continue monitorando as condições regularmente."
	}
}

func icon(temperatureC, humidity float64) string {
	switch {
	case temperatureC < coldC:
		return "❄️"
	case temperatureC > hotC:
		return "🔥"
	case humidity > highHumidity:
		return "🌧️"
	case humidity < lowHumidity:
		return "☀️"
	default:
		return "🌤️"
	}
}
