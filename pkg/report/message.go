// Package report 生成派单结果的人工阅读摘要
package report

import (
	"fmt"
	"strings"

	"github.com/yk970217-wq/cleanbear/pkg/model"
)

// 摘要中最多列出的条目数
const (
	maxFailedShown   = 5
	maxDeferredShown = 3
	maxSkippedShown  = 3
)

// HumanMessage 生成摘要文本
func HumanMessage(assigned, failed, deferred []*model.Assignment, skipped []model.SkippedTechnician) string {
	total := len(assigned) + len(failed) + len(deferred)
	if total == 0 {
		return "배정할 작업이 없습니다."
	}

	var b strings.Builder
	b.WriteString("📋 배정 결과 요약\n")
	fmt.Fprintf(&b, "- 전체 작업: %d건\n", total)
	fmt.Fprintf(&b, "- 배정 완료: %d건\n", len(assigned))
	fmt.Fprintf(&b, "- 배정 실패: %d건\n", len(failed))
	fmt.Fprintf(&b, "- 예약 일수 제한 초과: %d건", len(deferred))

	if len(failed) > 0 {
		b.WriteString("\n\n⚠️ 배정 실패 작업:")
		for _, a := range failed[:min(len(failed), maxFailedShown)] {
			reason := a.Job.ErrorReason
			if reason == "" {
				reason = a.Memo
			}
			if reason == "" {
				reason = "배정 실패"
			}
			fmt.Fprintf(&b, "\n  • %s: %s", a.Job.JobID, reason)
		}
		writeMore(&b, len(failed)-maxFailedShown, "건")
	}

	if len(deferred) > 0 {
		b.WriteString("\n\n⏰ 예약 일수 제한 초과 작업 (다음 배정 단계에서 처리):")
		for _, a := range deferred[:min(len(deferred), maxDeferredShown)] {
			fmt.Fprintf(&b, "\n  • %s: %s", a.Job.JobID, a.Job.Date)
		}
		writeMore(&b, len(deferred)-maxDeferredShown, "건")
	}

	if len(skipped) > 0 {
		fmt.Fprintf(&b, "\n\n⚠️ 기사 스킵: %d명 (필수 필드 누락)", len(skipped))
		for _, s := range skipped[:min(len(skipped), maxSkippedShown)] {
			fmt.Fprintf(&b, "\n  • %s: %s", s.TechnicianID, s.Reason)
		}
		writeMore(&b, len(skipped)-maxSkippedShown, "명")
	}

	if n := countFallback(assigned, failed, deferred); n > 0 {
		fmt.Fprintf(&b, "\n\n📌 중요: 기본값 사용된 작업 %d건", n)
		b.WriteString("\n  (누락된 값은 서비스별 기본값 등으로 보완)")
		b.WriteString("\n  → 상세는 결과 데이터의 fallback_details 참조")
	}

	return b.String()
}

func writeMore(b *strings.Builder, rest int, unit string) {
	if rest > 0 {
		fmt.Fprintf(b, "\n  ... 외 %d%s", rest, unit)
	}
}

func countFallback(lists ...[]*model.Assignment) int {
	n := 0
	for _, list := range lists {
		for _, a := range list {
			if a.Job.FallbackUsed {
				n++
			}
		}
	}
	return n
}
