package reports

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techinfoplus/tip-erp/internal/shared"
)

var (
	monthNames = []string{"Janvier", "Février", "Mars", "Avril", "Mai", "Juin", "Juillet", "Août", "Septembre", "Octobre", "Novembre", "Décembre"}
	monthShort = []string{"Jan", "Fév", "Mar", "Avr", "Mai", "Jun", "Jul", "Aoû", "Sep", "Oct", "Nov", "Déc"}
)

// ResolvePeriod turns a period name into a date range ending with today.
// An empty name means the current month.
func ResolvePeriod(p Period, now time.Time) (Range, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := today.AddDate(0, 0, 1)
	switch Period(strings.ToLower(string(p))) {
	case PeriodToday:
		return Range{Period: PeriodToday, From: today, To: to}, nil
	case PeriodWeek:
		offset := (int(today.Weekday()) + 6) % 7
		return Range{Period: PeriodWeek, From: today.AddDate(0, 0, -offset), To: to}, nil
	case PeriodMonth, "":
		return Range{Period: PeriodMonth, From: today.AddDate(0, 0, 1-today.Day()), To: to}, nil
	case PeriodYear:
		return Range{Period: PeriodYear, From: time.Date(today.Year(), 1, 1, 0, 0, 0, 0, time.UTC), To: to}, nil
	default:
		return Range{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, p)
	}
}

// Evolution buckets daily revenue for the sales chart: months over a year,
// days over a month and ISO weeks otherwise. Negative buckets show as zero.
func Evolution(rng Range, days []DayRevenue) []Bucket {
	switch rng.Period {
	case PeriodYear:
		sums := make([]decimal.Decimal, 12)
		for _, d := range days {
			m := int(d.Day.Month()) - 1
			sums[m] = sums[m].Add(d.Amount)
		}
		out := make([]Bucket, 12)
		for i := range sums {
			out[i] = Bucket{Label: monthShort[i], Amount: shared.MaxZero(sums[i])}
		}
		return out
	case PeriodMonth:
		first := rng.From
		n := first.AddDate(0, 1, -1).Day()
		sums := make([]decimal.Decimal, n)
		for _, d := range days {
			if d.Day.Year() == first.Year() && d.Day.Month() == first.Month() {
				sums[d.Day.Day()-1] = sums[d.Day.Day()-1].Add(d.Amount)
			}
		}
		out := make([]Bucket, n)
		for i := range sums {
			out[i] = Bucket{Label: fmt.Sprint(i + 1), Amount: shared.MaxZero(sums[i])}
		}
		return out
	default:
		var out []Bucket
		index := map[int]int{}
		for day := rng.From; day.Before(rng.To); day = day.AddDate(0, 0, 1) {
			_, week := day.ISOWeek()
			if _, ok := index[week]; !ok {
				index[week] = len(out)
				out = append(out, Bucket{Label: fmt.Sprintf("Sem %d", week), Amount: decimal.Zero})
			}
		}
		for _, d := range days {
			_, week := d.Day.ISOWeek()
			if i, ok := index[week]; ok {
				out[i].Amount = out[i].Amount.Add(d.Amount)
			}
		}
		for i := range out {
			out[i].Amount = shared.MaxZero(out[i].Amount)
		}
		return out
	}
}

// FillMonths spreads a sparse per-month series over the twelve months of
// year, flooring negative values at zero.
func FillMonths(year int, rows []MonthRevenue) MonthlySales {
	out := MonthlySales{
		Year:    year,
		Months:  append([]string(nil), monthNames...),
		Counter: make([]decimal.Decimal, 12),
		Normal:  make([]decimal.Decimal, 12),
		Total:   make([]decimal.Decimal, 12),
	}
	for i := 0; i < 12; i++ {
		out.Counter[i], out.Normal[i], out.Total[i] = decimal.Zero, decimal.Zero, decimal.Zero
	}
	for _, row := range rows {
		if row.Month < 1 || row.Month > 12 {
			continue
		}
		i := row.Month - 1
		out.Counter[i] = shared.MaxZero(row.Counter)
		out.Normal[i] = shared.MaxZero(row.Normal)
		out.Total[i] = shared.MaxZero(row.Total)
	}
	return out
}
