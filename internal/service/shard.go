package service

import (
	"hash/crc32"
)

// ShardFor детерминированно выбирает шард аналитики для ссылки.
// Функция одна и та же у ингестора и агрегатора: результат зависит только
// от слага и количества шардов, шард никогда не хранится как отдельный
// источник истины, способный разойтись с вычислением.
func ShardFor(slug string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	return int(crc32.ChecksumIEEE([]byte(slug)) % uint32(shardCount))
}
