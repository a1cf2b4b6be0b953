package producer

import (
	"context"
	"strconv"
	"sync"

	"github.com/levinOo/go-telemetry-pipeline/internal/models"
	"github.com/levinOo/go-telemetry-pipeline/internal/sampler"
)

// Business отправляет метрики бизнес-событий управления недвижимостью
// и ведёт накопительные итоги для периодического снимка: общие и по владельцам.
type Business struct {
	prefix  string
	emitter Emitter

	mu     sync.Mutex
	all    totals
	owners map[string]*totals
}

type totals struct {
	total   int
	vacant  int
	revenue float64
}

func (t totals) snapshot() sampler.BusinessSnapshot {
	return sampler.BusinessSnapshot{Properties: t.total, Vacant: t.vacant, MonthlyRevenue: t.revenue}
}

// NewBusiness создаёт хуки с префиксом имён service.
func NewBusiness(service string, emitter Emitter) *Business {
	return &Business{prefix: service, emitter: emitter, owners: make(map[string]*totals)}
}

// owner возвращает итоги владельца; для пустого ownerID - nil. Вызывается под b.mu.
func (b *Business) owner(ownerID string) *totals {
	if ownerID == "" {
		return nil
	}
	t, ok := b.owners[ownerID]
	if !ok {
		t = &totals{}
		b.owners[ownerID] = t
	}
	return t
}

// PropertyCreated учитывает новый объект. Новый объект считается свободным.
func (b *Business) PropertyCreated(propertyType string, monthlyRent float64) {
	b.PropertyCreatedBy("", propertyType, monthlyRent)
}

// PropertyCreatedBy учитывает новый объект владельца ownerID и в его персональных итогах.
func (b *Business) PropertyCreatedBy(ownerID, propertyType string, monthlyRent float64) {
	b.mu.Lock()
	b.all.total++
	b.all.vacant++
	if t := b.owner(ownerID); t != nil {
		t.total++
		t.vacant++
	}
	b.mu.Unlock()

	b.emitter.Emit(
		models.NewCounter(b.prefix+".properties.created_total", 1,
			models.L("property_type", propertyType)),
		models.NewGauge(b.prefix+".properties.rent_amount_rub", monthlyRent,
			models.L("property_type", propertyType, "action", "created")),
	)
}

// ContractSigned учитывает подписанный договор аренды.
func (b *Business) ContractSigned(propertyType string, monthlyRent float64, months int) {
	b.ContractSignedFor("", propertyType, monthlyRent, months)
}

// ContractSignedFor учитывает договор по объекту владельца ownerID и в его персональных итогах.
func (b *Business) ContractSignedFor(ownerID, propertyType string, monthlyRent float64, months int) {
	b.mu.Lock()
	b.all.sign(monthlyRent)
	if t := b.owner(ownerID); t != nil {
		t.sign(monthlyRent)
	}
	b.mu.Unlock()

	labels := models.L("property_type", propertyType)
	b.emitter.Emit(
		models.NewCounter(b.prefix+".contracts.signed_total", 1, labels),
		models.NewGauge(b.prefix+".contracts.monthly_rent_rub", monthlyRent, labels),
		models.NewGauge(b.prefix+".contracts.duration_months", float64(months), labels),
	)
}

func (t *totals) sign(monthlyRent float64) {
	if t.vacant > 0 {
		t.vacant--
	}
	t.revenue += monthlyRent
}

// PaymentReceived учитывает поступивший платёж.
func (b *Business) PaymentReceived(paymentType string, amount float64, overdue bool) {
	labels := models.L("payment_type", paymentType, "is_overdue", strconv.FormatBool(overdue))
	b.emitter.Emit(
		models.NewCounter(b.prefix+".payments.received_total", 1, labels),
		models.NewGauge(b.prefix+".payments.amount_rub", amount, labels),
	)
}

// VacancyRate фиксирует число объектов и свободных объектов, заменяя накопленные итоги.
func (b *Business) VacancyRate(total, vacant int) {
	b.mu.Lock()
	b.all.total, b.all.vacant = total, vacant
	b.mu.Unlock()

	snap := sampler.BusinessSnapshot{Properties: total, Vacant: vacant}
	b.emitter.Emit(
		models.NewGauge(b.prefix+".properties.total_count", float64(total), nil),
		models.NewGauge(b.prefix+".properties.vacant_count", float64(vacant), nil),
		models.NewGauge(b.prefix+".properties.vacancy_rate_percentage", snap.VacancyRate(), nil),
	)
}

// BusinessSnapshot реализует sampler.BusinessStats.
func (b *Business) BusinessSnapshot(_ context.Context) (sampler.BusinessSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.all.snapshot(), nil
}

// OwnerSnapshots реализует sampler.OwnerBusinessStats.
func (b *Business) OwnerSnapshots(_ context.Context) (map[string]sampler.BusinessSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]sampler.BusinessSnapshot, len(b.owners))
	for id, t := range b.owners {
		out[id] = t.snapshot()
	}
	return out, nil
}
