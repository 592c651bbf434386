package orchestrator

import "github.com/shaiso/Phasegate/internal/domain"

// Action — что координатор должен сделать с запросом на этом тике.
type Action string

const (
	// ActionNone — делать нечего.
	ActionNone Action = "none"

	// ActionPoll — опросить движок о выполняющейся фазе.
	ActionPoll Action = "poll"

	// ActionCancel — отменить выполняющуюся фазу по запросу оператора.
	ActionCancel Action = "cancel"

	// ActionPromote — перевести следующую подходящую фазу из QUEUED в READY.
	ActionPromote Action = "promote"

	// ActionLaunch — запустить READY фазу.
	ActionLaunch Action = "launch"
)

// Decision — решение координатора для одного запроса.
type Decision struct {
	Action Action
	Phase  int
	Reason string
}

// Decide выбирает действие для запроса. Чистая функция: не обращается
// ни к хранилищам, ни к внешним системам.
//
// Порядок:
//   - есть RUNNING фаза — опрос (или отмена, если её запросили);
//   - есть READY фаза — запуск фазы с наименьшим номером;
//   - есть QUEUED фаза, предыдущая которой COMPLETED — перевод в READY
//     (восстановление цепочки, если финализатор не успел вызвать MarkReady);
//   - иначе ничего.
func Decide(p *domain.ParentRequest) Decision {
	if p == nil || p.Status.IsTerminal() {
		return Decision{Action: ActionNone, Reason: "request is finished"}
	}

	if running := p.RunningPhase(); running != nil {
		if running.CancelRequested {
			return Decision{Action: ActionCancel, Phase: running.Number, Reason: running.CancelReason}
		}
		return Decision{Action: ActionPoll, Phase: running.Number}
	}

	if ready := p.LowestReady(); ready != nil {
		return Decision{Action: ActionLaunch, Phase: ready.Number}
	}

	if next := p.NextEligible(); next != nil {
		return Decision{Action: ActionPromote, Phase: next.Number}
	}

	return Decision{Action: ActionNone, Reason: "no launchable phase"}
}
