package invoker

import "strings"

// ParseHeaders разбирает строку заголовков формата "key=value;key=value".
//
// Пустые сегменты и сегменты без "=" или с пустым ключом пропускаются.
// Значение может содержать "=" — делим по первому.
func ParseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return headers
	}

	for _, segment := range strings.Split(raw, ";") {
		key, value, found := strings.Cut(segment, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}

	return headers
}
