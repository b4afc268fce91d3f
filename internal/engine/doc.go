// Package engine разрешает переменные процесса для шаблонов шагов.
//
// Включает:
//   - scope.go    — scope'ы: system, экземпляр → родители, произвольная map
//   - template.go — рендеринг ${...} выражений (fasttemplate) по namespace'ам
//
// ${system.x}, ${proc.x} и ${response.x} ищутся только в своём scope.
// Имя без префикса проходит system, цепочку процесса и ответ; первый
// найденный побеждает. Обход родителей ограничен MaxAncestorHops.
package engine
