// Package celestial derives a deterministic daily score from astronomical
// state: lunar phase, retrogrades, eclipses and planetary aspects.
package celestial

import (
	"math"
	"time"

	"github.com/astroquant/confluence/internal/domain"
)

// Ephemeris is a pure function from a UTC instant to astronomical state.
// Implementations must be deterministic and side-effect free.
type Ephemeris interface {
	StateAt(date time.Time) domain.CelestialState
}

// Planets tracked for longitudes, retrogrades and aspects.
var Planets = []string{"sun", "moon", "mercury", "venus", "mars", "jupiter", "saturn"}

var zodiacSigns = []string{
	"aries", "taurus", "gemini", "cancer", "leo", "virgo",
	"libra", "scorpio", "sagittarius", "capricorn", "aquarius", "pisces",
}

var lunarPhaseNames = []string{
	"new_moon", "waxing_crescent", "first_quarter", "waxing_gibbous",
	"full_moon", "waning_gibbous", "last_quarter", "waning_crescent",
}

type aspectDef struct {
	name  string
	angle float64
	orb   float64
}

var aspectDefs = []aspectDef{
	{"conjunction", 0, 8},
	{"sextile", 60, 6},
	{"square", 90, 8},
	{"trine", 120, 8},
	{"opposition", 180, 8},
}

const synodicMonth = 29.530588853

// MeanEphemeris computes low-precision geocentric ecliptic longitudes from
// mean orbital elements. Accuracy is on the order of a degree, which is well
// inside every orb used by the scoring rules.
type MeanEphemeris struct{}

// NewMeanEphemeris returns the built-in ephemeris provider.
func NewMeanEphemeris() *MeanEphemeris { return &MeanEphemeris{} }

// StateAt computes the full celestial state for the civil day of date.
func (e *MeanEphemeris) StateAt(date time.Time) domain.CelestialState {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	d := julianDaysSinceJ2000(day)

	longitudes := e.longitudes(d)
	yesterday := e.longitudes(d - 1)

	retro := make(map[string]bool)
	retroCount := 0
	for _, planet := range []string{"mercury", "venus", "mars", "jupiter", "saturn"} {
		delta := angleDiff(longitudes[planet], yesterday[planet])
		if delta < 0 {
			retro[planet] = true
			retroCount++
		} else {
			retro[planet] = false
		}
	}

	phase := normalize(longitudes["moon"] - longitudes["sun"])
	illumination := (1 - math.Cos(phase*math.Pi/180)) / 2

	moonAge := phase / 360 * synodicMonth
	daysToNew := synodicMonth - moonAge
	daysToFull := math.Mod(synodicMonth/2-moonAge+synodicMonth, synodicMonth)

	nodeLon := normalize(125.1228 - 0.0529538083*d)
	nearNode := math.Min(
		angularDistance(longitudes["moon"], nodeLon),
		angularDistance(longitudes["moon"], normalize(nodeLon+180)))

	isSolar := (phase < 15 || phase > 345) && nearNode < 12
	isLunar := math.Abs(phase-180) < 15 && nearNode < 9

	var aspects []domain.Aspect
	for i := 0; i < len(Planets); i++ {
		for j := i + 1; j < len(Planets); j++ {
			p1, p2 := Planets[i], Planets[j]
			dist := angularDistance(longitudes[p1], longitudes[p2])
			for _, def := range aspectDefs {
				orbDist := math.Abs(dist - def.angle)
				if orbDist <= def.orb {
					aspects = append(aspects, domain.Aspect{
						Planet1:     p1,
						Planet2:     p2,
						Name:        def.name,
						ExactAngle:  def.angle,
						OrbDistance: math.Round(orbDist*100) / 100,
					})
					break // one aspect per pair
				}
			}
		}
	}

	var ingresses []domain.Ingress
	for _, planet := range Planets {
		signToday := zodiacSign(longitudes[planet])
		signYesterday := zodiacSign(yesterday[planet])
		if signToday != signYesterday {
			ingresses = append(ingresses, domain.Ingress{
				Planet:   planet,
				FromSign: signYesterday,
				ToSign:   signToday,
			})
		}
	}

	return domain.CelestialState{
		Date:               day,
		LunarPhaseAngle:    phase,
		LunarPhaseName:     lunarPhaseNames[int(phase/45)%8],
		LunarIllumination:  illumination,
		DaysToNextNewMoon:  daysToNew,
		DaysToNextFullMoon: daysToFull,
		IsLunarEclipse:     isLunar,
		IsSolarEclipse:     isSolar,
		Retrogrades:        retro,
		RetrogradeCount:    retroCount,
		Longitudes:         longitudes,
		ActiveAspects:      aspects,
		Ingresses:          ingresses,
	}
}

// orbital elements at J2000: mean longitude (deg), daily motion (deg/day),
// semi-major axis (AU). Circular-orbit approximation.
type element struct {
	l0, rate, a float64
}

var elements = map[string]element{
	"mercury": {252.25084, 4.09233445, 0.387098},
	"venus":   {181.97973, 1.60213034, 0.723330},
	"earth":   {100.46435, 0.98560910, 1.000000},
	"mars":    {355.45332, 0.52403304, 1.523688},
	"jupiter": {34.40438, 0.08308529, 5.202560},
	"saturn":  {49.94432, 0.03346063, 9.554750},
}

func (e *MeanEphemeris) longitudes(d float64) map[string]float64 {
	out := make(map[string]float64, len(Planets))

	earth := heliocentric("earth", d)
	// Sun's geocentric longitude is Earth's heliocentric one flipped.
	out["sun"] = normalize(math.Atan2(-earth[1], -earth[0]) * 180 / math.Pi)

	// Low-precision lunar longitude: mean longitude plus the largest
	// periodic term (evection and variation omitted).
	lMoon := 218.316 + 13.176396*d
	mMoon := (134.963 + 13.064993*d) * math.Pi / 180
	out["moon"] = normalize(lMoon + 6.289*math.Sin(mMoon))

	for _, planet := range []string{"mercury", "venus", "mars", "jupiter", "saturn"} {
		pos := heliocentric(planet, d)
		out[planet] = normalize(math.Atan2(pos[1]-earth[1], pos[0]-earth[0]) * 180 / math.Pi)
	}
	return out
}

func heliocentric(body string, d float64) [2]float64 {
	el := elements[body]
	lon := (el.l0 + el.rate*d) * math.Pi / 180
	return [2]float64{el.a * math.Cos(lon), el.a * math.Sin(lon)}
}

func julianDaysSinceJ2000(t time.Time) float64 {
	// J2000.0 epoch: 2000-01-01 12:00 UTC.
	epoch := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	return t.Sub(epoch).Hours() / 24
}

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func angularDistance(lon1, lon2 float64) float64 {
	diff := math.Abs(lon1 - lon2)
	diff = math.Mod(diff, 360)
	return math.Min(diff, 360-diff)
}

// angleDiff is the signed smallest rotation from b to a in degrees.
func angleDiff(a, b float64) float64 {
	d := math.Mod(a-b+540, 360) - 180
	return d
}

func zodiacSign(lon float64) string {
	return zodiacSigns[int(normalize(lon)/30)%12]
}
