package speech

import "strings"

// 形象音色别名到提供商 speaker 的映射。形象配置里只写别名，
// 换音色不需要动形象数据。
var voiceAliases = map[string]string{
	"companion-warm-female": "zh_female_vv_venus_bigtts",
	"mentor-calm-male":      "zh_male_M392_conversation_wvae_bigtts",
	"mum-gentle-female":     "en_female_amy_jupiter_bigtts",
	"en_default":            "en_female_amy_jupiter_bigtts",
}

// resolveSpeakerCandidates 把请求音色与配置兜底音色整理成
// 去重后的 speaker 尝试列表。
func resolveSpeakerCandidates(requested, fallback string) []string {
	var candidates []string

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if mapped, ok := voiceAliases[strings.ToLower(s)]; ok {
			s = mapped
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)

	if len(candidates) == 0 {
		return []string{fallback}
	}
	return candidates
}

// resolveResourceCandidates 按音色推断可用的资源 ID，命中失败时
// 调用方逐个回退。
func resolveResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultResource, seedResource}
	}

	// 复刻音色固定走 megatts
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	seedHints := []string{
		"bigtts", "seed", "megatts",
		"uranus", "venus", "jupiter", "saturn",
		"neptune", "mercury", "pluto", "mars",
	}
	for _, hint := range seedHints {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

func isResourceMismatchError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
